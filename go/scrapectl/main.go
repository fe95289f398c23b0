// scrapectl is the harvester binary: `scrapectl serve` wires the stores,
// the router, the source adapters and the delivery pipeline together and
// runs until signaled.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

func main() {
	var parser = flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "serve", "Run the harvester", `
Run the harvester with the provided configuration, until signaled to exit
(via SIGTERM). Seeds are expanded into a breadth-limited crawl; harvested
entities are persisted, serialized, and shipped to the downstream
aggregator.
`, &cmdServe{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, a, b, c string, iface interface{}) *flags.Command {
	var cmd, err = to.AddCommand(a, b, c, iface)
	if err != nil {
		panic(fmt.Sprintf("failed to add flags parser command: %v", err))
	}
	return cmd
}
