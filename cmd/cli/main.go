// Command gk-drafts is a CLI client for the drafts service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/goph-drafts/internal/convert"
	grpcserver "github.com/and161185/goph-drafts/internal/server/grpc"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	Author      string    `json:"author,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "goph-drafts")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "goph-drafts")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok, author string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, Author: author, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run `token` first)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp without verifying the signature; the server does that.
func tokenExpiry(tok string, fallback time.Duration) time.Time {
	var claims jwt.RegisteredClaims
	_, _ = jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation(),
	)
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(fallback)
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify, plaintext bool) (credentials.TransportCredentials, error) {
	if plaintext {
		return insecure.NewCredentials(), nil
	}
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type dialOpts struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
}

func dial(o dialOpts, bearer string) (*grpc.ClientConn, *grpcserver.Client, error) {
	creds, err := loadTLS(o.caPath, o.skipVerify, o.plaintext)
	if err != nil {
		return nil, nil, err
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !o.plaintext}))
	}
	cc, err := grpc.NewClient(o.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewClient(cc), nil
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printStruct(w io.Writer, s *structpb.Struct) error {
	b, err := convert.ToJSON(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func fail(err error) {
	if st, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", st.Code(), st.Message())
	} else {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `gk-drafts CLI
Usage:
  gk-drafts -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  token    -author <name> -key <hs256 key> [-ttl 24h]   (saves token)
  ensure   [-key k] [-parent <uuid> -scope s]
  reply    -parent <uuid> -scope s [-key k]
  get      -key k | -parent <uuid>
  target   -key k -parent <uuid> -scope s
  save     -key k [-file blob|-] [-children n] [-debounce]
  publish  -key k
  abandon  -key k
  status   -key k
  active
  dump
  clear    [-key k]                                   (dev servers only)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands; every RPC command uses the saved token.
func main() {
	var d dialOpts
	flag.StringVar(&d.addr, "addr", "localhost:8443", "server addr")
	flag.StringVar(&d.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&d.skipVerify, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&d.plaintext, "plaintext", false, "no TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	switch cmd {
	case "version":
		fmt.Printf("gk-drafts %s (%s)\n", version, buildDate)
		return

	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		author := fs.String("author", "", "author (token subject)")
		key := fs.String("key", os.Getenv("DRAFTS_JWT_KEY"), "HS256 signing key")
		ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
		_ = fs.Parse(args)
		if *author == "" || *key == "" {
			fmt.Fprintln(os.Stderr, "need -author and -key")
			os.Exit(1)
		}
		tok, err := grpcserver.IssueToken([]byte(*key), *author, *ttl)
		if err != nil {
			fail(err)
		}
		if err := saveToken(tok, *author, tokenExpiry(tok, *ttl)); err != nil {
			fail(err)
		}
		fmt.Println("ok")
		return
	}

	method, req, err := buildCommand(cmd, args)
	if err != nil {
		if errors.Is(err, errUnknownCommand) {
			usage()
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	cc, cli, err := dial(d, token)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	ctx, cancel := withTimeout()
	defer cancel()
	resp, err := cli.Call(ctx, method, req)
	if err != nil {
		fail(err)
	}
	if err := printStruct(os.Stdout, resp); err != nil {
		fail(err)
	}
}
