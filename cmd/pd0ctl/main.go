package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"example.com/pd0gate/internal/common"
	"example.com/pd0gate/internal/manifest"
	"example.com/pd0gate/internal/pd0"
	"example.com/pd0gate/internal/report"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// exitError carries the process exit status for a failed subcommand.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// healthExit turns a non-OK health into an exitError: fatal conditions exit
// with 2, partial decodes with 1.
func healthExit(h pd0.Health) error {
	if h.OK() {
		return nil
	}
	code := 1
	if h.Fatal() {
		code = 2
	}
	return &exitError{code: code, err: h.Err()}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "index":
		err = indexCmd(ctx, args, os.Stdout)
	case "leader":
		err = leaderCmd(ctx, args, os.Stdout)
	case "array":
		err = arrayCmd(ctx, args, os.Stdout)
	case "decode":
		err = decodeCmd(ctx, args, os.Stdout)
	case "check":
		err = checkCmd(args, os.Stdout)
	case "batch":
		err = batchCmd(ctx, args, os.Stdout)
	case "manifest":
		err = manifestCmd(args, os.Stdout)
	case "verify-manifest":
		err = verifyManifestCmd(args, os.Stdout)
	case "version":
		fmt.Printf("pd0ctl %s (built %s)\n", version, buildDate)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Printf("pd0ctl %s (built %s)\n", version, buildDate)
	fmt.Println("usage: pd0ctl <index|leader|array|decode|check|batch|manifest|verify-manifest|version> [flags]")
	fmt.Println("  index     list ensemble descriptors as NDJSON")
	fmt.Println("  leader    dump fixed or variable leader rows as NDJSON")
	fmt.Println("  array     decode one array kind (velocity, correlation, echo, percent-good, status)")
	fmt.Println("  decode    decode a whole file into a JSON summary and optional PDF report")
	fmt.Println("  check     verify declared sizes, checksums and duplicate ensembles")
	fmt.Println("  batch     decode every PD0 file in a directory")
	fmt.Println("  manifest  hash input files into a manifest, optionally signed")
	fmt.Println("  verify-manifest  check a manifest against its detached signature")
}

// decodeFlags are shared by every subcommand that decodes a stream.
type decodeFlags struct {
	in          *string
	concurrency *int
	verify      *bool
	blockSize   *int
}

func addDecodeFlags(fs *flag.FlagSet) decodeFlags {
	def := pd0.DefaultOptions()
	return decodeFlags{
		in:          fs.String("in", "", "input PD0 file (.gz, .zst and .lz4 are decompressed)"),
		concurrency: fs.Int("concurrency", def.Concurrency, "decode workers"),
		verify:      fs.Bool("verify-checksum", false, "verify every ensemble checksum while indexing"),
		blockSize:   fs.Int("block-size", def.BlockSize, "read window in bytes for uncompressed files"),
	}
}

func (f decodeFlags) options() pd0.Options {
	return pd0.Options{Concurrency: *f.concurrency, VerifyChecksum: *f.verify, BlockSize: *f.blockSize}
}

func (f decodeFlags) open() (pd0.Source, error) {
	if *f.in == "" {
		return nil, errors.New("--in is required")
	}
	src, err := pd0.Open(*f.in, *f.blockSize)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return src, nil
}

func indexCmd(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	df := addDecodeFlags(fs)
	out := fs.String("out", "", "write NDJSON here instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	src, err := df.open()
	if err != nil {
		return err
	}
	defer src.Close()

	w, closeOut, err := outputWriter(*out, stdout)
	if err != nil {
		return err
	}
	defer closeOut()
	enc := json.NewEncoder(w)
	ix := pd0.NewIndexer(src, df.options())
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := ix.Next()
		if err != nil {
			break
		}
		if err := enc.Encode(map[string]any{"ensemble": i, "descriptor": d, "blocks": d.BlockNames()}); err != nil {
			return err
		}
	}
	h := ix.Health()
	common.Logf("indexed %s: %s", *df.in, h)
	return healthExit(h)
}

func leaderCmd(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("leader", flag.ContinueOnError)
	df := addDecodeFlags(fs)
	kind := fs.String("kind", "fixed", "leader kind: fixed or variable")
	out := fs.String("out", "", "write NDJSON here instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kind != "fixed" && *kind != "variable" {
		return fmt.Errorf("unknown leader kind %q", *kind)
	}
	src, err := df.open()
	if err != nil {
		return err
	}
	defer src.Close()

	dec := pd0.NewDecoder(src, df.options())
	idx, ih := dec.Index(ctx)
	if ih.Fatal() {
		return healthExit(ih)
	}
	var rows []any
	var h pd0.Health
	if *kind == "fixed" {
		var t *pd0.FixedLeaderTable
		t, h = dec.FixedLeader(ctx, &idx)
		for _, r := range t.Rows {
			rows = append(rows, r)
		}
		if t.SerialMissing {
			fmt.Fprintln(os.Stderr, "warning: CPU board serial unreadable, serial-dependent fields zeroed")
		}
	} else {
		var t *pd0.VariableLeaderTable
		t, h = dec.VariableLeader(ctx, &idx)
		for _, r := range t.Rows {
			rows = append(rows, r)
		}
	}

	w, closeOut, err := outputWriter(*out, stdout)
	if err != nil {
		return err
	}
	defer closeOut()
	enc := json.NewEncoder(w)
	for i, r := range rows {
		if err := enc.Encode(map[string]any{"ensemble": i, "fields": r}); err != nil {
			return err
		}
	}
	return healthExit(h)
}

func arrayCmd(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("array", flag.ContinueOnError)
	df := addDecodeFlags(fs)
	kindName := fs.String("kind", "velocity", "array kind")
	samples := fs.String("samples", "", "write per-ensemble beam x cell samples as NDJSON to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kind, err := pd0.ParseArrayKind(*kindName)
	if err != nil {
		return err
	}
	src, err := df.open()
	if err != nil {
		return err
	}
	defer src.Close()

	a, h := pd0.NewDecoder(src, df.options()).Array(ctx, nil, nil, kind)
	out := struct {
		Kind      pd0.ArrayKind `json:"kind"`
		Beams     int           `json:"beams"`
		Cells     int           `json:"cells"`
		Ensembles int           `json:"ensembles"`
		Health    pd0.Health    `json:"health"`
	}{Kind: kind, Health: h}
	if a != nil {
		out.Beams, out.Cells, out.Ensembles = a.Beams, a.Cells, a.Ensembles
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if *samples != "" && a != nil {
		if err := writeSamples(*samples, a); err != nil {
			return fmt.Errorf("write samples: %w", err)
		}
	}
	return healthExit(h)
}

func writeSamples(path string, a *pd0.ArrayBlock) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for e := 0; e < a.Ensembles; e++ {
		flat := a.Ensemble(e)
		grid := make([][]int16, a.Beams)
		for b := range grid {
			grid[b] = flat[b*a.Cells : (b+1)*a.Cells]
		}
		if err := enc.Encode(map[string]any{"ensemble": e, "samples": grid}); err != nil {
			return err
		}
	}
	return f.Close()
}

func decodeCmd(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	df := addDecodeFlags(fs)
	jsonOut := fs.String("json", "", "write the summary JSON here instead of stdout")
	pdfOut := fs.String("pdf", "", "also write a PDF report")
	check := fs.Bool("check", false, "include the file integrity check in the summary")
	progress := fs.Bool("progress", false, "print live indexing progress to stderr")
	metrics := fs.Bool("metrics", false, "print throughput metrics after decoding")
	quiet := fs.Bool("quiet", false, "suppress log output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	common.SetQuiet(*quiet)
	src, err := df.open()
	if err != nil {
		return err
	}
	defer src.Close()

	var m *common.Metrics
	if *progress || *metrics {
		m = common.NewMetrics()
		m.Start()
	}
	var stopProgress func()
	if *progress {
		stopProgress = common.StartProgressPrinter(os.Stderr, m, 500*time.Millisecond)
	}
	dec := pd0.NewDecoder(src, df.options())
	dec.SetMetrics(m)
	ds, err := dec.Decode(ctx)
	if stopProgress != nil {
		stopProgress()
	}
	if m != nil {
		m.Stop()
	}
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return healthExit(ds.Health())
	}

	sum, err := summarizeFile(*df.in, src, ds, *check)
	if err != nil {
		return err
	}
	if *jsonOut != "" {
		if err := report.SaveJSON(sum, *jsonOut); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		fmt.Fprintln(stdout, "Wrote summary:", *jsonOut)
	} else {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
	}
	if *pdfOut != "" {
		if err := report.SavePDF(sum, *pdfOut); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
		fmt.Fprintln(stdout, "Wrote PDF:", *pdfOut)
	}
	if *metrics {
		printMetrics(os.Stderr, m.Snapshot())
	}
	return healthExit(ds.Health())
}

func summarizeFile(path string, src pd0.ByteSource, ds *pd0.Dataset, check bool) (report.Summary, error) {
	digest, _, err := common.Sha256OfFile(path)
	if err != nil {
		return report.Summary{}, fmt.Errorf("digest: %w", err)
	}
	sum := report.Summarize(filepath.Base(path), digest, ds)
	if check {
		fc, err := pd0.CheckFile(src, &ds.Index)
		if err != nil {
			return sum, fmt.Errorf("check: %w", err)
		}
		sum.Check = &fc
	}
	return sum, nil
}

func printMetrics(w io.Writer, s common.MetricsSnapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Ensembles:\t%d\n", s.Ensembles)
	fmt.Fprintf(tw, "Bytes:\t%s\n", common.FormatBytes(s.Bytes))
	fmt.Fprintf(tw, "Corruptions:\t%d\n", s.Corruptions)
	fmt.Fprintf(tw, "Elapsed:\t%s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(tw, "Throughput:\t%.2f MiB/s\n", s.ThroughputBytesPerSecond()/(1024*1024))
	tw.Flush()
}

func checkCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	df := addDecodeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	src, err := df.open()
	if err != nil {
		return err
	}
	defer src.Close()

	fc, err := pd0.CheckFile(src, nil)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fc); err != nil {
		return err
	}
	if !fc.OK() {
		return &exitError{code: 1, err: fmt.Errorf("file check failed: %s", fc.Health)}
	}
	return nil
}

// batchCmd decodes every PD0 file under --in and writes one summary per file
// into --out-dir, followed by an index of the results.
func batchCmd(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	in := fs.String("in", "", "directory of PD0 files")
	outDir := fs.String("out-dir", "", "directory for summaries")
	pdf := fs.Bool("pdf", false, "write a PDF report next to each summary")
	concurrency := fs.Int("concurrency", pd0.DefaultOptions().Concurrency, "decode workers per file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *outDir == "" {
		return errors.New("--in and --out-dir are required")
	}
	entries, err := os.ReadDir(*in)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch manifest.Classify(e.Name()) {
		case "pd0", "pd0-compressed":
			files = append(files, filepath.Join(*in, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return fmt.Errorf("no PD0 files in %s", *in)
	}

	type result struct {
		File      string `json:"file"`
		Summary   string `json:"summary,omitempty"`
		Ensembles int    `json:"ensembles"`
		Health    string `json:"health"`
		Code      int    `json:"code"`
	}
	opts := pd0.DefaultOptions()
	opts.Concurrency = *concurrency
	var results []result
	failed := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := batchOne(ctx, path, *outDir, opts, *pdf)
		if err != nil {
			common.Logf("batch %s: %v", path, err)
		}
		r := result{File: filepath.Base(path), Summary: res.summary, Ensembles: res.health.Ensembles, Health: res.health.String(), Code: res.health.Code()}
		if err != nil {
			r.Health = err.Error()
			if r.Code == 0 {
				r.Code = 99
			}
		}
		if r.Code != 0 {
			failed++
		}
		results = append(results, r)
	}
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(*outDir, "batch.json"), b, 0o644); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tENSEMBLES\tHEALTH")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", r.File, r.Ensembles, r.Health)
	}
	tw.Flush()
	if failed > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d of %d files did not decode cleanly", failed, len(files))}
	}
	return nil
}

type batchResult struct {
	summary string
	health  pd0.Health
}

func batchOne(ctx context.Context, path, outDir string, opts pd0.Options, pdf bool) (batchResult, error) {
	var res batchResult
	src, err := pd0.Open(path, opts.BlockSize)
	if err != nil {
		return res, err
	}
	defer src.Close()
	ds, err := pd0.NewDecoder(src, opts).Decode(ctx)
	res.health = ds.Health()
	if err != nil {
		return res, err
	}
	sum, err := summarizeFile(path, src, ds, true)
	if err != nil {
		return res, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	res.summary = filepath.Join(outDir, base+".summary.json")
	if err := report.SaveJSON(sum, res.summary); err != nil {
		return res, err
	}
	if pdf {
		if err := report.SavePDF(sum, filepath.Join(outDir, base+".report.pdf")); err != nil {
			return res, err
		}
	}
	return res, nil
}

func manifestCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("manifest", flag.ContinueOnError)
	inputs := fs.String("inputs", "", "comma-separated paths")
	out := fs.String("out", "manifest.json", "output json")
	sign := fs.Bool("sign", false, "sign manifest (detached JWS over JSON)")
	keyPath := fs.String("key", "", "PEM RSA private key for signing (requires --sign)")
	jwsOut := fs.String("jws-out", "", "signature output (default <out>.jws)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sign && *keyPath == "" {
		return errors.New("--sign requires --key")
	}
	var paths []string
	for _, p := range strings.Split(*inputs, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return errors.New("--inputs is required")
	}
	m, err := manifest.Build(paths)
	if err != nil {
		return err
	}
	if err := manifest.Save(m, *out); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Wrote manifest:", *out)
	if !*sign {
		return nil
	}
	sigPath := *jwsOut
	if sigPath == "" {
		sigPath = *out + ".jws"
	}
	if err := manifest.SignFile(*out, *keyPath, sigPath); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Wrote signature:", sigPath)
	return nil
}

func verifyManifestCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("verify-manifest", flag.ContinueOnError)
	path := fs.String("manifest", "manifest.json", "manifest to verify")
	jwsPath := fs.String("jws", "", "detached signature (default <manifest>.jws)")
	certPath := fs.String("cert", "", "signer certificate or public key (PEM)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *certPath == "" {
		return errors.New("--cert is required")
	}
	if *jwsPath == "" {
		*jwsPath = *path + ".jws"
	}
	if err := manifest.VerifyFile(*path, *jwsPath, *certPath); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	fmt.Fprintln(stdout, "Signature OK")
	return nil
}

// outputWriter returns stdout when path is empty, else a created file.
func outputWriter(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
