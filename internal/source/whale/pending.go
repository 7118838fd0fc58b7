package whale

import (
	"context"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/source"
)

// Flipside is registered for priority and availability but has no client yet.
type Flipside struct{}

func (Flipside) Name() string     { return NameFlipside }
func (Flipside) Requires() string { return NameFlipside }

// Fetch always fails with NOT_IMPLEMENTED so the resolver moves on.
func (Flipside) Fetch(context.Context, source.Query) (Movements, error) {
	return nil, xerrors.New(xerrors.CodeNotImplemented, "flipside 数据源尚未接入")
}

// WhaleAlert is known but does not cover Mantle.
type WhaleAlert struct{}

func (WhaleAlert) Name() string     { return NameWhaleAlert }
func (WhaleAlert) Requires() string { return NameWhaleAlert }

// Fetch always fails with NOT_IMPLEMENTED.
func (WhaleAlert) Fetch(context.Context, source.Query) (Movements, error) {
	return nil, xerrors.New(xerrors.CodeNotImplemented, "whale_alert 不支持 Mantle")
}

var (
	_ source.Source[Movements] = Flipside{}
	_ source.Source[Movements] = WhaleAlert{}
)
