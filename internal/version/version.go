package version

var (
	// Version 在构建时通过 -ldflags 覆盖。
	Version = "dev"
	// Commit 是构建所用的 git 提交。
	Commit = "unknown"
	// BuildDate 是构建时间。
	BuildDate = "unknown"
)
