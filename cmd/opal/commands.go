package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/branched-services/go-opal"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/urfave/cli.v1"
)

var (
	deployCommand = cli.Command{
		Action:    deploy,
		Name:      "deploy",
		Usage:     "Validate documents and deploy their contracts",
		ArgsUsage: "<document.json> [document.json...]",
		Flags:     []cli.Flag{nodeURLFlag, keyFileFlag, contractFlag},
		Description: `
Each document is validated by recompiling its source, then deployed from the
address of --keyfile. Several documents are deployed concurrently; their nonces
are coordinated so that none collide. Receipts are printed as JSON lines.`,
	}

	validateCommand = cli.Command{
		Action:    validate,
		Name:      "validate",
		Usage:     "Check that document sources compile to the declared bytecode",
		ArgsUsage: "<document.json> [document.json...]",
		Flags:     []cli.Flag{contractFlag},
	}

	signCommand = cli.Command{
		Action:    sign,
		Name:      "sign",
		Usage:     "Attach an issuer envelope to a document",
		ArgsUsage: "<document.json>",
		Flags:     []cli.Flag{keyFileFlag},
	}

	addressCommand = cli.Command{
		Action: address,
		Name:   "address",
		Usage:  "Print the address of --keyfile",
		Flags:  []cli.Flag{keyFileFlag},
	}

	encodeCommand = cli.Command{
		Action:    encode,
		Name:      "encode",
		Usage:     "Print the deployment payload for bytecode and a query URI",
		ArgsUsage: "<bytecode> <queryURI>",
	}

	dumpConfigCommand = cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Show configuration values",
		Flags:       []cli.Flag{nodeURLFlag, contractFlag},
		Description: `The dumpconfig command shows configuration values.`,
	}
)

// signalContext is cancelled on SIGINT/SIGTERM, ending pending receipt watches.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadDocuments(ctx *cli.Context) ([]*opal.SignedDocument, error) {
	if ctx.NArg() == 0 {
		return nil, errors.New("no documents given")
	}
	docs := make([]*opal.SignedDocument, 0, ctx.NArg())
	for _, path := range ctx.Args() {
		doc, err := opal.LoadDocument(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func deploy(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	docs, err := loadDocuments(ctx)
	if err != nil {
		return err
	}
	key, err := loadKey(ctx)
	if err != nil {
		return err
	}
	defer key.Wipe()

	opts, err := cfg.DeployerOptions()
	if err != nil {
		return err
	}
	sigctx, cancel := signalContext()
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(sigctx, 30*time.Second)
	node, err := opal.Dial(dialCtx, cfg.Node.URL, cfg.NodeOptions()...)
	dialCancel()
	if err != nil {
		return err
	}
	defer node.Close()

	deployer := opal.NewDeployer(node, cfg.Compiler(), opts...)
	enc := json.NewEncoder(os.Stdout)

	// A failed document does not cancel the others.
	var g errgroup.Group
	results := make(chan any, len(docs))
	for i, doc := range docs {
		path := ctx.Args().Get(i)
		g.Go(func() error {
			receipt, err := deployer.Deploy(sigctx, doc, key)
			if err != nil {
				var derr *opal.DeployError
				if errors.As(err, &derr) && derr.Submitted {
					log.Error("Deployment submitted but not confirmed", "document", path, "tx", derr.TxHash, "err", err)
				}
				return fmt.Errorf("%s: %w", path, err)
			}
			log.Info("Contract deployed", "document", path, "address", receipt.ContractAddress, "block", receipt.BlockNumber)
			results <- receipt
			return nil
		})
	}
	err = g.Wait()
	close(results)
	for r := range results {
		if encErr := enc.Encode(r); encErr != nil && err == nil {
			err = encErr
		}
	}
	return err
}

func validate(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	docs, err := loadDocuments(ctx)
	if err != nil {
		return err
	}
	sigctx, cancel := signalContext()
	defer cancel()

	validator := opal.NewValidator(cfg.Compiler(), cfg.Deploy.ContractName)
	var failed int
	for i, doc := range docs {
		if err := validator.Check(sigctx, doc); err != nil {
			failed++
			fmt.Printf("%s: INVALID: %v\n", ctx.Args().Get(i), err)
			continue
		}
		fmt.Printf("%s: ok\n", ctx.Args().Get(i))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents invalid", failed, len(docs))
	}
	return nil
}

func sign(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("expected exactly one document")
	}
	doc, err := opal.LoadDocument(ctx.Args().First())
	if err != nil {
		return err
	}
	key, err := loadKey(ctx)
	if err != nil {
		return err
	}
	defer key.Wipe()

	priv, err := crypto.ToECDSA(key.PrivateKey)
	if err != nil {
		return err
	}
	defer priv.D.SetUint64(0)
	env, err := opal.SignDocument(doc.Payload, priv, time.Now())
	if err != nil {
		return err
	}
	doc.Envelope = env
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func address(ctx *cli.Context) error {
	key, err := loadKey(ctx)
	if err != nil {
		return err
	}
	defer key.Wipe()
	addr, err := key.Address()
	if err != nil {
		return err
	}
	fmt.Println(addr.Hex())
	return nil
}

func encode(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return errors.New("expected <bytecode> <queryURI>")
	}
	payload, err := opal.EncodePayload(ctx.Args().Get(0), ctx.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Println("0x" + payload)
	return nil
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	out, err := cfg.MarshalTOML()
	if err != nil {
		return err
	}
	os.Stdout.Write(out)
	return nil
}
