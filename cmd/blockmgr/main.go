package main

import (
	"os"

	"github.com/carina-io/blockmgr/cmd/blockmgr/run"
	"github.com/carina-io/blockmgr/utils/log"
)

var gitCommitID = "dev"

func main() {
	if os.Getenv("DEBUG") != "" {
		printWelcome()
	}
	run.Execute()
}

func printWelcome() {
	if gitCommitID == "" {
		gitCommitID = "dev"
	}
	log.Debug("-------- blockmgr --------")
	log.Debugf("Git Commit ID : %s", gitCommitID)
	log.Debug("--------------------------")
}
