package version

// CurrentCommit is set by the build to the current git commit.
var CurrentCommit string

const BuildVersion = "0.3.0"

func String() string {
	return BuildVersion + CurrentCommit
}
