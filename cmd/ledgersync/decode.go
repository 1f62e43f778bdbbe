package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ledgerSync/internal/config"
	"ledgerSync/internal/decoder"
	"ledgerSync/internal/model"
	"ledgerSync/internal/syncer"
)

func newDecodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a raw log JSONL file into event records offline",
		RunE:  runDecode,
	}
	cmd.Flags().String("source-type", "data_registry", "source type (data_registry, erc20)")
	cmd.Flags().String("in", "", "input raw logs JSONL")
	cmd.Flags().String("out", "./data/decoded_events.jsonl", "output decoded events JSONL")
	cmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	cmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	sourceType, err := decoder.ParseSourceType(cfg.SourceType)
	if err != nil {
		return configErrorf("%v", err)
	}
	dec, err := decoder.NewRegistry(decoder.Config{Topic0Map: cfg.Topic0Map}).Get(sourceType)
	if err != nil {
		return err
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	outWriter, err := newJSONLWriter(cfg.Out, false)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	errWriter, err := newJSONLWriter(cfg.Errors, false)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	logger.Info("decode start",
		zap.String("source_type", string(sourceType)),
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
	)

	stats, err := decodeStream(inputFile, dec, outWriter, errWriter, time.Now)
	if err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", stats.total),
		zap.Int("decoded", stats.decoded),
		zap.Int("skipped", stats.skipped),
		zap.Int("failed", stats.failed),
	)
	return nil
}

type decodeStats struct {
	total, decoded, skipped, failed int
}

// decodeStream decodes one RawLog per line. Logs with an unknown topic0 are
// counted as skipped; malformed lines and decode failures go to errs.
func decodeStream(in io.Reader, dec decoder.Decoder, out, errs *jsonlWriter, now func() time.Time) (decodeStats, error) {
	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var stats decodeStats
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.total++

		var record model.RawLog
		if err := json.Unmarshal(line, &record); err != nil {
			stats.failed++
			writeDecodeError(errs, model.DecodeError{
				SourceType: string(dec.SourceType()),
				Stage:      model.StageDecode,
				Error:      err.Error(),
			}, now)
			continue
		}
		if record.Topic0() == "" {
			stats.failed++
			writeDecodeError(errs, decodeErrorFromRecord(dec, record, fmt.Errorf("missing topic0")), now)
			continue
		}
		if !dec.CanDecode(record.Topic0()) {
			stats.skipped++
			continue
		}

		decoded, err := dec.Decode(record)
		if err != nil {
			stats.failed++
			writeDecodeError(errs, decodeErrorFromRecord(dec, record, err), now)
			continue
		}
		event, err := syncer.BuildEvent(record, decoded, now())
		if err != nil {
			stats.failed++
			writeDecodeError(errs, decodeErrorFromRecord(dec, record, err), now)
			continue
		}

		if err := out.Write(event); err != nil {
			return stats, err
		}
		stats.decoded++
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan input: %w", err)
	}
	return stats, nil
}

type jsonlWriter struct {
	file   *os.File
	writer *bufio.Writer
}

func newJSONLWriter(path string, appendMode bool) (*jsonlWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &jsonlWriter{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (w *jsonlWriter) Write(value interface{}) error {
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

func (w *jsonlWriter) Close() error {
	if w == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func decodeErrorFromRecord(dec decoder.Decoder, record model.RawLog, err error) model.DecodeError {
	return model.DecodeError{
		SourceType:  string(dec.SourceType()),
		Address:     record.Address,
		BlockNumber: record.BlockNumber,
		TxHash:      record.TxHash,
		LogIndex:    record.LogIndex,
		Topic0:      record.Topic0(),
		Stage:       model.StageDecode,
		Error:       err.Error(),
	}
}

func writeDecodeError(writer *jsonlWriter, errRecord model.DecodeError, now func() time.Time) {
	if writer == nil {
		return
	}
	if errRecord.RecordedAt == "" {
		errRecord.RecordedAt = now().UTC().Format(time.RFC3339Nano)
	}
	_ = writer.Write(errRecord)
}
