package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/StrandLabs/strand/client"
	"github.com/StrandLabs/strand/models"
	"github.com/fatih/color"
)

var (
	logger     *slog.Logger
	gatewayURL string
	skipVerify bool
	timeout    time.Duration
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	flag.StringVar(&gatewayURL, "gateway", "http://127.0.0.1:8420", "Gateway base URL")
	flag.BoolVar(&skipVerify, "skip-verify", false, "Skip TLS verification")
	flag.DurationVar(&timeout, "timeout", 60*time.Second, "Request timeout")
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: strandctl [flags] <command> [args]

Commands:
  upload <file>                      upload a file, print its root hash
  download <rootHash> [outfile]      download a blob (proof-verified)
  attach <ownerRef> <file>           upload an attachment for an owner
  attachments <ownerRef>             list an owner's attachments
  kv-set <streamId> <key> <value>    write an overlay key
  kv-get <streamId> <key>            read an overlay key
  nodes [replicas]                   list candidate storage nodes
  health                             gateway and network health
  da-submit <record.json>            disperse a structured record
  da-status <commitment>             attestation status of a commitment
  da-wait <commitment>               poll a commitment until it finalizes
  da-verify <commitment>             availability probe
  da-retrieve <commitment> [outfile] fetch dispersed bytes
  estimate <sizeBytes>               cost quote for an upload

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	c, err := client.New(&client.Config{
		BaseURL:    gatewayURL,
		SkipVerify: skipVerify,
		Timeout:    timeout,
		Logger:     logger,
	})
	if err != nil {
		fail("could not initialize client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "upload":
		cmdUpload(ctx, c, rest)
	case "download":
		cmdDownload(ctx, c, rest)
	case "attach":
		cmdAttach(ctx, c, rest)
	case "attachments":
		cmdAttachments(ctx, c, rest)
	case "kv-set":
		cmdKVSet(ctx, c, rest)
	case "kv-get":
		cmdKVGet(ctx, c, rest)
	case "nodes":
		cmdNodes(ctx, c, rest)
	case "health":
		cmdHealth(ctx, c)
	case "da-submit":
		cmdDASubmit(ctx, c, rest)
	case "da-status":
		cmdDAStatus(ctx, c, rest)
	case "da-wait":
		cmdDAWait(ctx, c, rest)
	case "da-verify":
		cmdDAVerify(ctx, c, rest)
	case "da-retrieve":
		cmdDARetrieve(ctx, c, rest)
	case "estimate":
		cmdEstimate(ctx, c, rest)
	default:
		fail("unknown command '%s'", cmd)
	}
}

func fail(format string, args ...any) {
	color.Red(format, args...)
	os.Exit(1)
}

func need(rest []string, n int, what string) {
	if len(rest) < n {
		fail("expected %s", what)
	}
}

func cmdUpload(ctx context.Context, c *client.Client, rest []string) {
	need(rest, 1, "a file path")
	f, err := os.Open(rest[0])
	if err != nil {
		fail("could not open '%s': %v", rest[0], err)
	}
	defer f.Close()

	result, err := c.Upload(ctx, f.Name(), f)
	if err != nil {
		fail("upload failed: %v", err)
	}
	color.Green("uploaded %s (%d bytes)", result.Filename, result.Size)
	fmt.Printf("rootHash: %s\ntxHash:   %s\n", result.RootHash, result.TxHash)
}

func cmdDownload(ctx context.Context, c *client.Client, rest []string) {
	need(rest, 1, "a root hash")
	data, err := c.Download(ctx, rest[0])
	if err != nil {
		fail("download failed: %v", err)
	}
	if len(rest) > 1 {
		if err := os.WriteFile(rest[1], data, 0644); err != nil {
			fail("could not write '%s': %v", rest[1], err)
		}
		color.Green("wrote %d bytes to %s", len(data), rest[1])
		return
	}
	os.Stdout.Write(data)
}

func cmdAttach(ctx context.Context, c *client.Client, rest []string) {
	need(rest, 2, "an owner ref and a file path")
	f, err := os.Open(rest[1])
	if err != nil {
		fail("could not open '%s': %v", rest[1], err)
	}
	defer f.Close()

	result, err := c.UploadAttachment(ctx, rest[0], f.Name(), f)
	if err != nil {
		fail("attachment upload failed: %v", err)
	}
	color.Green("attached to %s", rest[0])
	fmt.Printf("rootHash: %s\ntxHash:   %s\n", result.RootHash, result.TxHash)
}

func cmdAttachments(ctx context.Context, c *client.Client, rest []string) {
	need(rest, 1, "an owner ref")
	attachments, err := c.Attachments(ctx, rest[0])
	if err != nil {
		fail("listing failed: %v", err)
	}
	if len(attachments) == 0 {
		color.Yellow("no attachments for %s", rest[0])
		return
	}
	for _, a := range attachments {
		fmt.Printf("%s  %8d  %s  %s\n", a.RootHash, a.Size, a.Type, a.Name)
	}
}

func cmdKVSet(ctx context.Context, c *client.Client, rest []string) {
	need(rest, 3, "a stream id, key and value")
	streamID, err := strconv.ParseUint(rest[0], 10, 64)
	if err != nil {
		fail("stream id must be an unsigned integer")
	}
	txHash, err := c.KVWrite(ctx, streamID, rest[1], rest[2])
	if err != nil {
		fail("kv write failed: %v", err)
	}
	color.Green("ok")
	fmt.Printf("txHash: %s\n", txHash)
}

func cmdKVGet(ctx context.Context, c *client.Client, rest []string) {
	need(rest, 2, "a stream id and key")
	streamID, err := strconv.ParseUint(rest[0], 10, 64)
	if err != nil {
		fail("stream id must be an unsigned integer")
	}
	value, err := c.KVRead(ctx, streamID, rest[1])
	if err != nil {
		fail("kv read failed: %v", err)
	}
	fmt.Println(value)
}

func cmdNodes(ctx context.Context, c *client.Client, rest []string) {
	var replicas uint64
	if len(rest) > 0 {
		n, err := strconv.ParseUint(rest[0], 10, 64)
		if err != nil {
			fail("replicas must be an unsigned integer")
		}
		replicas = n
	}
	nodes, err := c.SelectNodes(ctx, 0, replicas, nil)
	if err != nil {
		fail("node selection failed: %v", err)
	}
	for _, n := range nodes {
		fmt.Printf("%-16s %-24s %12d\n", n.NodeID, n.Endpoint, n.Capacity)
	}
}

func cmdHealth(ctx context.Context, c *client.Client) {
	report, err := c.Health(ctx)
	if err != nil {
		fail("health probe failed: %v", err)
	}
	if report.Healthy {
		color.Green("healthy")
	} else {
		color.Red("unhealthy")
	}
	fmt.Printf("block:   %d\nwallet:  %v\nuploads: %v\n",
		report.Details.BlockNumber, report.Details.WalletConfigured, report.Details.UploadsEnabled)
}

func cmdDASubmit(ctx context.Context, c *client.Client, rest []string) {
	need(rest, 1, "a record file")
	raw, err := os.ReadFile(rest[0])
	if err != nil {
		fail("could not read '%s': %v", rest[0], err)
	}
	var record models.DARecord
	if err := json.Unmarshal(raw, &record); err != nil {
		fail("'%s' is not a valid record: %v", rest[0], err)
	}

	sub, err := c.SubmitRecord(ctx, &record)
	if err != nil {
		fail("submission failed: %v", err)
	}
	color.Green("dispersed")
	fmt.Printf("commitment: %s\nblobHash:   %s\nbatchId:    %s\nfinalizes:  %s\n",
		sub.Commitment, sub.BlobHash, sub.BatchID, sub.EstimatedFinalization.Format(time.RFC3339))
}

func cmdDAStatus(ctx context.Context, c *client.Client, rest []string) {
	need(rest, 1, "a commitment")
	status, err := c.Status(ctx, rest[0])
	if err != nil {
		fail("status poll failed: %v", err)
	}
	switch status {
	case models.DAStatusFinalized:
		color.Green(string(status))
	case models.DAStatusConfirmed:
		color.Yellow(string(status))
	default:
		fmt.Println(status)
	}
}

func cmdDAWait(ctx context.Context, c *client.Client, rest []string) {
	need(rest, 1, "a commitment")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, rest[0])
		if err != nil {
			fail("status poll failed: %v", err)
		}
		if status == models.DAStatusFinalized {
			color.Green("finalized")
			return
		}
		fmt.Printf("%s...\n", status)

		select {
		case <-ctx.Done():
			fail("gave up waiting: %v", ctx.Err())
		case <-ticker.C:
		}
	}
}

func cmdDAVerify(ctx context.Context, c *client.Client, rest []string) {
	need(rest, 1, "a commitment")
	available, err := c.Verify(ctx, rest[0])
	if err != nil {
		fail("verification failed: %v", err)
	}
	if available {
		color.Green("available")
	} else {
		color.Red("unavailable")
	}
}

func cmdDARetrieve(ctx context.Context, c *client.Client, rest []string) {
	need(rest, 1, "a commitment")
	data, verified, err := c.Retrieve(ctx, rest[0])
	if err != nil {
		fail("retrieval failed: %v", err)
	}
	if len(rest) > 1 {
		if err := os.WriteFile(rest[1], data, 0644); err != nil {
			fail("could not write '%s': %v", rest[1], err)
		}
	} else {
		os.Stdout.Write(data)
		fmt.Println()
	}
	if verified {
		color.Green("record verified")
	} else {
		color.Yellow("payload did not verify as a structured record")
	}
}

func cmdEstimate(ctx context.Context, c *client.Client, rest []string) {
	need(rest, 1, "a size in bytes")
	size, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		fail("size must be an integer")
	}
	cost, gas, err := c.EstimateCost(ctx, size)
	if err != nil {
		fail("estimate failed: %v", err)
	}
	fmt.Printf("cost: %.8f\ngas:  %d\n", cost, gas)
}
