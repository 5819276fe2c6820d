package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/EmirPirija/lmx-chat/internal/daemon"
	"github.com/EmirPirija/lmx-chat/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	listenFlag := flag.String("listen", "", "local API listen address (overrides config)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, ListenAddr: *listenFlag}),
	)

	app.Run()
}
