package main

import (
	"log"

	"github.com/pliu/friends/cmd"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cmd.Execute()
}
