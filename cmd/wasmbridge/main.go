// Command wasmbridge runs a contract against the in-memory test environment
// and prints the outcome as a {"Ok": ...} / {"Err": ...} envelope.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/CosmWasm/wasmbridge"
	"github.com/CosmWasm/wasmbridge/internal/testenv"
	"github.com/CosmWasm/wasmbridge/marshal"
	"github.com/CosmWasm/wasmbridge/types"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML file with bridge settings",
	}
	codecFlag = &cli.StringFlag{
		Name:  "codec",
		Usage: "boundary codec (json, msgpack or cbor), overrides the config file",
	}
	codeFlag = &cli.PathFlag{
		Name:     "code",
		Usage:    "contract wasm file",
		Required: true,
	}
	initMsgFlag = &cli.StringFlag{
		Name:  "init-msg",
		Usage: "instantiate message",
		Value: "{}",
	}
	msgFlag = &cli.StringFlag{
		Name:  "msg",
		Usage: "message of the call",
		Value: "{}",
	}
	senderFlag = &cli.StringFlag{
		Name:  "sender",
		Usage: "account name the sender address is derived from",
		Value: "creator",
	}
	fundsFlag = &cli.StringFlag{
		Name:  "funds",
		Usage: "coins sent with the call, e.g. 100ucosm,5uatom; they are minted to the sender first",
	}
	newCodeFlag = &cli.PathFlag{
		Name:     "new-code",
		Usage:    "wasm file to migrate to",
		Required: true,
	}
)

func main() {
	app := &cli.App{
		Name:  "wasmbridge",
		Usage: "run CosmWasm contracts in a sandboxed VM against an in-memory chain",
		Flags: []cli.Flag{configFlag, codecFlag},
		Commands: []*cli.Command{
			{
				Name:   "instantiate",
				Usage:  "instantiate the contract",
				Flags:  []cli.Flag{codeFlag, initMsgFlag, senderFlag, fundsFlag},
				Action: instantiate,
			},
			{
				Name:   "execute",
				Usage:  "instantiate the contract, then execute msg",
				Flags:  []cli.Flag{codeFlag, initMsgFlag, msgFlag, senderFlag, fundsFlag},
				Action: execute,
			},
			{
				Name:   "migrate",
				Usage:  "instantiate the contract with the sender as admin, then migrate it to new-code",
				Flags:  []cli.Flag{codeFlag, newCodeFlag, initMsgFlag, msgFlag, senderFlag},
				Action: migrate,
			},
			{
				Name:   "query",
				Usage:  "instantiate the contract, then query it with msg",
				Flags:  []cli.Flag{codeFlag, initMsgFlag, msgFlag, senderFlag},
				Action: query,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is one bridge with a fresh environment and the contract of --code
// instantiated by --sender.
type session struct {
	bridge *wasmbridge.Bridge
	env    *testenv.Environment
	sender types.HumanAddress
	addr   types.HumanAddress
	step   types.VMStep
	logger zerolog.Logger
}

func loadConfig(c *cli.Context) (wasmbridge.Config, error) {
	cfg := wasmbridge.DefaultConfig()
	if path := c.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = wasmbridge.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if codec := c.String(codecFlag.Name); codec != "" {
		cfg.Codec = codec
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg wasmbridge.Config) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(cfg.Level()).
		With().Timestamp().Logger()
}

// open starts a session. A failed instantiation is reported as the outcome,
// not as an error of the command.
func open(c *cli.Context, admin bool) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)
	code, err := os.ReadFile(c.Path(codeFlag.Name))
	if err != nil {
		return nil, err
	}
	funds, err := parseCoins(c.String(fundsFlag.Name))
	if err != nil {
		return nil, err
	}

	b, err := wasmbridge.New(c.Context, cfg, logger)
	if err != nil {
		return nil, err
	}
	env := testenv.New(b, testenv.DefaultConfig(), logger)
	s := &session{bridge: b, env: env, sender: env.Account(c.String(senderFlag.Name)), logger: logger}
	if len(funds) > 0 {
		if err := env.Mint(s.sender, funds...); err != nil {
			_ = b.Close(c.Context)
			return nil, err
		}
	}

	var owner *types.HumanAddress
	if admin {
		owner = &s.sender
	}
	id := env.StoreCode(code)
	s.addr, s.step, err = env.Instantiate(c.Context, id, s.sender, funds, []byte(c.String(initMsgFlag.Name)), "cli", owner)
	if err != nil {
		_ = b.Close(c.Context)
		return nil, outcomeError{err}
	}
	logger.Info().Str("contract", s.addr).Uint64("gas_used", env.GasUsed()).Msg("instantiated")
	return s, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.bridge.Close(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("close bridge")
	}
}

// outcomeError marks a failure of the contract call itself, which is printed
// as an Err envelope.
type outcomeError struct{ err error }

func (e outcomeError) Error() string { return e.err.Error() }

func (e outcomeError) Unwrap() error { return e.err }

func instantiate(c *cli.Context) error {
	s, err := open(c, false)
	if err != nil {
		return report(c.App.Writer, types.VMStep{}, err)
	}
	defer s.close(c.Context)
	return report(c.App.Writer, s.step, nil)
}

func execute(c *cli.Context) error {
	s, err := open(c, false)
	if err != nil {
		return report(c.App.Writer, types.VMStep{}, err)
	}
	defer s.close(c.Context)
	funds, err := parseCoins(c.String(fundsFlag.Name))
	if err != nil {
		return err
	}
	// the instantiation already spent the minted funds
	if len(funds) > 0 {
		if err := s.env.Mint(s.sender, funds...); err != nil {
			return err
		}
	}
	step, err := s.env.Execute(c.Context, s.addr, s.sender, funds, []byte(c.String(msgFlag.Name)))
	return report(c.App.Writer, step, outcome(err))
}

func migrate(c *cli.Context) error {
	s, err := open(c, true)
	if err != nil {
		return report(c.App.Writer, types.VMStep{}, err)
	}
	defer s.close(c.Context)
	code, err := os.ReadFile(c.Path(newCodeFlag.Name))
	if err != nil {
		return err
	}
	step, err := s.env.Migrate(c.Context, s.addr, s.sender, s.env.StoreCode(code), []byte(c.String(msgFlag.Name)))
	return report(c.App.Writer, step, outcome(err))
}

func query(c *cli.Context) error {
	s, err := open(c, false)
	if err != nil {
		return report(c.App.Writer, types.QueryResult{}, err)
	}
	defer s.close(c.Context)
	res, err := s.env.Query(c.Context, s.addr, []byte(c.String(msgFlag.Name)))
	return report(c.App.Writer, res, outcome(err))
}

func outcome(err error) error {
	if err == nil {
		return nil
	}
	return outcomeError{err}
}

// envelope converts the result of a call into the SDK envelope. Transport
// failures and failures of the environment are both reported as Err.
func envelope[T any](v T, err error) marshal.Result[T] {
	if err == nil {
		return marshal.Envelope(marshal.Ok(v))
	}
	if wasmbridge.IsTransport(err) {
		return marshal.Envelope(marshal.Transport[T](err))
	}
	return marshal.Envelope(marshal.Semantic[T](err.Error()))
}

// report prints the envelope for outcome failures and returns every other
// error to the caller.
func report[T any](w io.Writer, v T, err error) error {
	var failed outcomeError
	if err != nil && !errors.As(err, &failed) {
		return err
	}
	out, jsonErr := json.MarshalIndent(envelope(v, err), "", "  ")
	if jsonErr != nil {
		return jsonErr
	}
	_, jsonErr = fmt.Fprintln(w, string(out))
	return jsonErr
}
