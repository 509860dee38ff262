package cmd

import "errors"

var (
	errNoDevices          = errors.New("no Bitaxe devices found")
	errMissingControlPort = errors.New("--control-port is required")
	errMissingDataPort    = errors.New("--data-port is required")
)
