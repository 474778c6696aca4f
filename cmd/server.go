package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Anson-y-chang/stream.io/config"
	server2 "github.com/Anson-y-chang/stream.io/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start the transcode pipeline and streaming server",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
