package main

import (
	"nsemirror/cmd/nsemirror/commands"
	"nsemirror/lib/serviceutil"
	"nsemirror/lib/telemetry"
)

func main() {
	telemetry.InitSlog(telemetry.Verbose())
	commands.ExecuteContext(serviceutil.SignalContext())
}
