package whale

import (
	"net/http"
	"time"

	"Fluxo/internal/source"
	"Fluxo/internal/web3"
)

// Options selects the sources wired into a whale resolver.
type Options struct {
	Primary     string
	Credentials source.Credentials
	Dune        DuneConfig
	HTTPClient  *http.Client
	Scanner     web3.TransferScanner
	BlocksFor   func(time.Duration) uint64
}

// NewResolver builds the default priority: primary, dune, flipside,
// whale_alert, onchain, then the mock fixture.
func NewResolver(opts Options) (*Resolver, error) {
	candidates := []source.Source[Movements]{
		NewDune(opts.Dune, opts.HTTPClient),
		Flipside{},
		WhaleAlert{},
	}
	if opts.Scanner != nil {
		candidates = append(candidates, NewOnchain(opts.Scanner, opts.BlocksFor))
	}
	return source.NewResolver[Movements]("whale", opts.Primary, opts.Credentials, Mock{}, candidates...)
}
