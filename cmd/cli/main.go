// Command sgctl is a CLI client for the ShareGate admin API.
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

	grpcserver "github.com/and161185/sharegate/internal/server/grpc"
	"github.com/and161185/sharegate/internal/service"
	u "github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "sharegate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sharegate")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
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
		return "", errors.New("no valid token (use -token or mint -save)")
	}
	return tf.AccessToken, nil
}

// resolveToken prefers the flag, then SHAREGATE_TOKEN, then the saved token.
func resolveToken(flagVal string) (string, error) {
	if flagVal != "" {
		return flagVal, nil
	}
	if v := os.Getenv("SHAREGATE_TOKEN"); v != "" {
		return v, nil
	}
	return loadToken()
}

// ---- grpc dial ----

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev flag
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
	return credentials.NewTLS(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}), nil
}

type dialOpts struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
}

func dial(o dialOpts) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if o.plaintext {
		creds = insecure.NewCredentials()
	} else {
		var err error
		if creds, err = loadTLS(o.caPath, o.skipVerify); err != nil {
			return nil, err
		}
	}
	return grpc.NewClient(o.addr, grpc.WithTransportCredentials(creds))
}

// ---- requests ----

// buildRequest parses the arguments of an API command into its method and message.
func buildRequest(cmd string, args []string) (string, *structpb.Struct, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	m := map[string]any{}
	var method string
	var check func() error

	switch cmd {
	case "share-create":
		method = grpcserver.MethodCreateShare
		file := fs.String("file", "", "file id (uuid)")
		perm := fs.String("perm", "VIEW_ONLY", "VIEW_ONLY or DOWNLOAD")
		ttl := fs.Duration("ttl", 0, "lifetime, 0 = never expires")
		maxAccess := fs.Int64("max", 0, "access cap, 0 = unlimited")
		password := fs.String("password", "", "optional share password")
		check = func() error {
			if *file == "" {
				return errors.New("need -file")
			}
			m["file_id"], m["permission"] = *file, *perm
			if *ttl != 0 {
				m["ttl"] = ttl.String()
			}
			if *maxAccess != 0 {
				m["max_access"] = *maxAccess
			}
			if *password != "" {
				m["password"] = *password
			}
			return nil
		}
	case "share-revoke", "stats":
		method = grpcserver.MethodRevokeShare
		if cmd == "stats" {
			method = grpcserver.MethodGetAccessStatistics
		}
		share := fs.String("share", "", "share token")
		check = func() error {
			if *share == "" {
				return errors.New("need -share")
			}
			m["token"] = *share
			return nil
		}
	case "shares":
		method = grpcserver.MethodListShares
	case "ratelimit", "threat", "unblacklist":
		method = map[string]string{
			"ratelimit":   grpcserver.MethodGetRateLimitStatus,
			"threat":      grpcserver.MethodGetThreatLevel,
			"unblacklist": grpcserver.MethodUnblacklist,
		}[cmd]
		ip := fs.String("ip", "", "IP address (unblacklist also takes a CIDR)")
		check = func() error {
			if *ip == "" {
				return errors.New("need -ip")
			}
			m["ip"] = *ip
			return nil
		}
	case "blacklist":
		method = grpcserver.MethodBlacklist
		ip := fs.String("ip", "", "IP address or CIDR")
		hours := fs.Int("hours", 24, "ban duration in hours")
		reason := fs.String("reason", "", "free-form reason")
		check = func() error {
			if *ip == "" {
				return errors.New("need -ip")
			}
			m["ip"], m["duration_hours"], m["reason"] = *ip, *hours, *reason
			return nil
		}
	case "dashboard":
		method = grpcserver.MethodSecurityDashboard
	case "reports":
		method = grpcserver.MethodSuspiciousReports
		lookback := fs.Duration("lookback", 0, "how far back to look, 0 = server default")
		check = func() error {
			if *lookback != 0 {
				m["lookback"] = lookback.String()
			}
			return nil
		}
	default:
		return "", nil, fmt.Errorf("unknown command %q", cmd)
	}

	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	if check != nil {
		if err := check(); err != nil {
			return "", nil, err
		}
	}
	req, err := structpb.NewStruct(m)
	if err != nil {
		return "", nil, err
	}
	return method, req, nil
}

// mint issues a token locally from the server's signing key.
func mint(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("mint", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	key := fs.String("key", os.Getenv("SHAREGATE_JWT_KEY"), "HS256 signing key")
	sub := fs.String("sub", "", "subject uuid (random when empty)")
	admin := fs.Bool("admin", false, "grant administrator rights")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	save := fs.Bool("save", false, "store the token for later commands")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("need -key or SHAREGATE_JWT_KEY")
	}
	id := u.Must(u.NewV4())
	if *sub != "" {
		var err error
		if id, err = u.FromString(*sub); err != nil {
			return fmt.Errorf("bad -sub: %w", err)
		}
	}
	tok, exp, err := service.NewAuthService([]byte(*key)).IssueToken(id, *admin, *ttl)
	if err != nil {
		return err
	}
	if *save {
		if err := saveToken(tok, exp); err != nil {
			return err
		}
	}
	return printJSON(out, map[string]any{
		"token":      tok,
		"subject":    id.String(),
		"admin":      *admin,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

// execute calls method and prints the response as JSON.
func execute(ctx context.Context, cli *grpcserver.Client, method string, req *structpb.Struct, out io.Writer) error {
	resp, err := cli.Call(ctx, method, req)
	if err != nil {
		return err
	}
	return printJSON(out, resp.AsMap())
}

// ---- utils ----

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
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
	fmt.Fprintf(os.Stderr, `sgctl: ShareGate admin CLI
Usage:
  sgctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] [-token JWT] <cmd> [args]

Commands:
  version
  mint         -key <k> [-sub <uuid>] [-admin] [-ttl 1h] [-save]
  share-create -file <uuid> [-perm VIEW_ONLY|DOWNLOAD] [-ttl 24h] [-max N] [-password p]
  share-revoke -share <token>
  shares
  stats        -share <token>
  ratelimit    -ip <ip>                         (admin)
  blacklist    -ip <ip|cidr> [-hours 24] [-reason r] (admin)
  unblacklist  -ip <ip|cidr>                    (admin)
  threat       -ip <ip>                         (admin)
  dashboard                                     (admin)
  reports      [-lookback 24h]                  (admin)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	addr := flag.String("addr", "localhost:8443", "admin API addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	skipVerify := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "no TLS (dev servers only)")
	token := flag.String("token", "", "bearer JWT (default: SHAREGATE_TOKEN or saved token)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	switch cmd {
	case "version":
		fmt.Printf("sgctl %s (%s)\n", version, buildDate)
		return
	case "mint":
		if err := mint(args, os.Stdout); err != nil {
			fail(err)
		}
		return
	}

	method, req, err := buildRequest(cmd, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
	}
	tok, err := resolveToken(*token)
	if err != nil {
		fail(err)
	}
	conn, err := dial(dialOpts{addr: *addr, caPath: *caPath, skipVerify: *skipVerify, plaintext: *plaintext})
	if err != nil {
		fail(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := execute(ctx, grpcserver.NewClient(conn, tok), method, req, os.Stdout); err != nil {
		fail(err)
	}
}
