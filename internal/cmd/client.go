package cmd

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/tomasbasham/planroom/internal/client"
)

// ClientOptions holds the flags shared by commands that talk to a server.
type ClientOptions struct {
	Server string
	Email  string
	Secret string
}

func (o *ClientOptions) AddFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&o.Server, "server", "s", envOr("PLANROOM_URL", "http://localhost:8080"), "Plan room server URL")
	flags.StringVarP(&o.Email, "email", "e", os.Getenv("PLANROOM_EMAIL"), "Email sent to gated endpoints")
	flags.StringVar(&o.Secret, "secret", os.Getenv("ADMIN_PASS"), "Shared admin secret sent to gated endpoints")
}

func (o *ClientOptions) Client() *client.Client {
	return client.New(o.Server, client.WithIdentity(o.Email, o.Secret))
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
