package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/tehcyx/gchat/internal/config"
	"github.com/tehcyx/gchat/pkg/server"
	"github.com/tehcyx/gchat/pkg/version"
)

func main() {
	if config.Values.Server.Debug {
		log.SetLevel(log.DebugLevel)
	}

	log.Printf("Launching %s %s...", config.Values.Server.Name, version.GetVersion())

	if err := server.New().ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
