package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/mmaker/acmeclient/internal/acmeclient"
	"github.com/mmaker/acmeclient/internal/adminserver"
	"github.com/mmaker/acmeclient/internal/dnschallenge"
	"github.com/mmaker/acmeclient/internal/httpchallenge"
	"github.com/mmaker/acmeclient/internal/tlsserver"
)

// IssueCommand drives get_crt end to end, taking its flags from a
// command struct the way the other subcommands in this CLI do.
type IssueCommand struct {
	AccountKey   string `long:"account-key" required:"true" description:"path to the account RSA private key PEM"`
	Csr          string `long:"csr" required:"true" description:"path to the CSR PEM"`
	Directory    string `long:"directory" description:"CA directory URL"`
	Challenge    string `long:"challenge" default:"dns-01" description:"http-01 or dns-01"`
	Auto         bool   `long:"auto" description:"use the automated solver transport instead of log-and-wait"`
	Bind         string `long:"bind" default:"127.0.0.1" description:"A-record answer for the automated dns-01 transport"`
	HTTPAddr     string `long:"http-addr" default:":80" description:"bind address for the automated http-01 transport"`
	DNSAddr      string `long:"dns-addr" default:"0.0.0.0:53" description:"bind address for the automated dns-01 transport"`
	PollInterval string `long:"poll-interval" default:"60s" description:"delay between challenge polls"`
	MaxPolls     int    `long:"max-polls" default:"0" description:"cap on poll attempts per domain (0 = unbounded)"`
	Out          string `long:"out" required:"true" description:"path to write the issued certificate PEM"`
}

func (c *IssueCommand) Execute([]string) error {
	accountKeyPEM, err := os.ReadFile(c.AccountKey)
	if err != nil {
		return err
	}
	csrPEM, err := os.ReadFile(c.Csr)
	if err != nil {
		return err
	}

	pollInterval, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return err
	}

	cfg := &acmeclient.Config{
		DirectoryURL: c.Directory,
		PollInterval: pollInterval,
		MaxPolls:     c.MaxPolls,
	}

	stop, err := c.setupSolver(cfg)
	if err != nil {
		return err
	}
	defer stop()

	pem, err := acmeclient.GetCrt(accountKeyPEM, csrPEM, cfg)
	if err != nil {
		return err
	}

	log.Printf("acme: issued certificate, writing to %s", c.Out)
	return os.WriteFile(c.Out, []byte(pem), 0644)
}

// setupSolver wires cfg.Solver per --challenge/--auto, starting the
// automated transport servers (and their admin shutdown endpoint) when
// --auto is set. The returned func stops whatever was started.
func (c *IssueCommand) setupSolver(cfg *acmeclient.Config) (func(), error) {
	if !c.Auto {
		switch c.Challenge {
		case "http-01":
			cfg.Solver = &acmeclient.HTTP01Solver{}
		default:
			cfg.Solver = &acmeclient.DNS01Solver{}
		}
		return func() {}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	switch c.Challenge {
	case "http-01":
		srv := httpchallenge.New(c.HTTPAddr)
		if err := srv.Start(); err != nil {
			cancel()
			return nil, err
		}
		cfg.Solver = &httpchallenge.Solver{Server: srv}
		admin := adminserver.New(":5003", cancel)
		admin.Start()
		go func() {
			<-ctx.Done()
			_ = srv.Stop(context.Background())
		}()
		return func() {
			_ = srv.Stop(ctx)
			_ = admin.Stop(ctx)
			cancel()
		}, nil
	default:
		srv := dnschallenge.New(c.DNSAddr, c.Bind)
		if err := srv.Start(); err != nil {
			cancel()
			return nil, err
		}
		cfg.Solver = &dnschallenge.Solver{Server: srv}
		admin := adminserver.New(":5003", cancel)
		admin.Start()
		go func() {
			<-ctx.Done()
			_ = srv.Stop(context.Background())
		}()
		return func() {
			_ = srv.Stop(ctx)
			_ = admin.Stop(ctx)
			cancel()
		}, nil
	}
}

// ServeCommand runs the post-issuance TLS demo server.
type ServeCommand struct {
	Cert string `long:"cert" required:"true" description:"path to the certificate PEM"`
	Key  string `long:"key" required:"true" description:"path to the private key PEM"`
	Addr string `long:"addr" default:":443" description:"listen address"`
}

func (c *ServeCommand) Execute([]string) error {
	return tlsserver.Run(c.Addr, c.Cert, c.Key)
}

func addCommands(parser *flags.Parser) error {
	if _, err := parser.AddCommand("issue", "request a certificate", "Drive the ACME issuance handshake for a CSR and write the resulting certificate PEM to disk.", &IssueCommand{}); err != nil {
		return err
	}
	if _, err := parser.AddCommand("serve", "serve an issued certificate", "Serve a page over TLS using a previously issued certificate, to confirm it works.", &ServeCommand{}); err != nil {
		return err
	}
	return nil
}

func main() {
	var opts struct{}
	parser := flags.NewParser(&opts, flags.Default)
	if err := addCommands(parser); err != nil {
		log.Fatal(err)
	}
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
