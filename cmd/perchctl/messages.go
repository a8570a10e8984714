package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/template"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/perch/broker"
	"github.com/vx-labs/perch/commitlog"
	"github.com/vx-labs/perch/stream"
	"go.uber.org/zap"
)

const recordTemplate = `[{{ .Timestamp | parseDate | faint }}] {{ .Offset | yellow }} {{ .ID.String | shorten | faint }} {{ range $key, $value := .Headers }}{{ $key }}={{ $value | bytesToString }} {{ end }}{{ .Payload | bytesToString }}`

func partitionFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32P("stream", "s", 0, "Stream ID")
	cmd.MarkFlagRequired("stream")
	cmd.Flags().Uint32P("topic", "t", 0, "Topic ID")
	cmd.MarkFlagRequired("topic")
	cmd.Flags().Uint32P("partition", "p", 0, "Partition ID")
}

func mustPartition(b *broker.Broker, l *zap.Logger, config *viper.Viper) commitlog.Partition {
	p, err := b.Partition(config.GetUint32("stream"), config.GetUint32("topic"), config.GetUint32("partition"))
	if err != nil {
		l.Fatal("failed to find partition", zap.Error(err))
	}
	return p
}

func parseHeaders(values []string) (map[string][]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string][]byte, len(values))
	for _, value := range values {
		tokens := strings.SplitN(value, "=", 2)
		if len(tokens) != 2 {
			return nil, os.ErrInvalid
		}
		out[tokens[0]] = []byte(tokens[1])
	}
	return out, nil
}

func printRecords(tpl *template.Template, out io.Writer, records []*commitlog.Message) {
	for _, record := range records {
		if err := tpl.Execute(out, record); err != nil {
			log.Print(err)
		}
	}
}

// zstdCompressed tells whether a dump file name designates a zstd stream.
func zstdCompressed(filename string) bool {
	return strings.HasSuffix(filename, ".zst")
}

func Messages(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use: "messages",
	}
	produce := &cobra.Command{
		Use:     "produce",
		Aliases: []string{"put"},
		Args:    cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			b, l := mustOpen(ctx, config)
			defer b.Close()
			headers, err := parseHeaders(config.GetStringSlice("header"))
			if err != nil {
				l.Fatal("invalid header, expected key=value", zap.Error(err))
			}
			streamID, topicID := config.GetUint32("stream"), config.GetUint32("topic")
			partitionID := config.GetUint32("partition")
			if key := config.GetString("key"); key != "" {
				topic, ok := findTopic(b.Streams(false), streamID, topicID)
				if !ok {
					l.Fatal("topic not found")
				}
				partitionID = stream.PartitionFor([]byte(key), uint32(len(topic.Partitions)))
			}
			batch := make([]*commitlog.Message, len(args))
			for idx, arg := range args {
				batch[idx] = commitlog.NewMessage([]byte(arg))
				batch[idx].Headers = headers
			}
			r, err := b.Produce(ctx, streamID, topicID, partitionID, batch)
			if err != nil {
				l.Fatal("failed to produce messages", zap.Error(err))
			}
			log.Printf("%d messages written to partition %d at offsets [%d, %d]\n", r.Count(), partitionID, r.First, r.Last)
		},
	}
	partitionFlags(produce)
	produce.Flags().StringP("key", "k", "", "Choose the partition by hashing this key")
	produce.Flags().StringSlice("header", nil, "Message header, as key=value")
	cmd.AddCommand(produce)

	get := &cobra.Command{
		Use: "get",
		Run: func(cmd *cobra.Command, args []string) {
			b, l := mustOpen(ctx, config)
			defer b.Close()
			strategy, err := broker.ParseStrategy(config.GetString("strategy"))
			if err != nil {
				l.Fatal("invalid strategy", zap.Error(err))
			}
			value := config.GetUint64("value")
			if since := config.GetDuration("since"); since > 0 {
				strategy = broker.StrategyTimestamp
				value = uint64(time.Now().Add(-since).UnixNano() / int64(time.Microsecond))
			}
			out, err := b.Fetch(ctx, broker.FetchRequest{
				StreamID:    config.GetUint32("stream"),
				TopicID:     config.GetUint32("topic"),
				PartitionID: config.GetUint32("partition"),
				Strategy:    strategy,
				Value:       value,
				Count:       config.GetInt("count"),
			})
			if err != nil {
				l.Fatal("failed to fetch messages", zap.Error(err))
			}
			printRecords(ParseTemplate(config.GetString("format")), cmd.OutOrStdout(), out)
		},
	}
	partitionFlags(get)
	get.Flags().String("strategy", "first", "Polling strategy (offset, timestamp, first or last)")
	get.Flags().Uint64("value", 0, "Offset or timestamp, in microseconds, to read from")
	get.Flags().Duration("since", 0, "Fetch records written since the given time expression.")
	get.Flags().IntP("count", "n", 10, "Maximum message count")
	get.Flags().String("format", recordTemplate, "Format each record using Golang template format.")
	cmd.AddCommand(get)

	tail := &cobra.Command{
		Use: "tail",
		Run: func(cmd *cobra.Command, args []string) {
			b, l := mustOpen(ctx, config)
			defer b.Close()
			p := mustPartition(b, l, config)
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				sigc := make(chan os.Signal, 1)
				signal.Notify(sigc,
					syscall.SIGINT,
					syscall.SIGTERM,
					syscall.SIGQUIT)
				<-sigc
				cancel()
			}()
			eof := stream.EOFBehaviourExit
			if config.GetBool("watch") {
				eof = stream.EOFBehaviourPoll
			}
			tpl := ParseTemplate(config.GetString("format"))
			consumer := stream.NewConsumer(
				stream.WithName("perchctl"),
				stream.FromOffset(config.GetInt64("from-offset")),
				stream.WithMaxRecordCount(config.GetInt64("max-count")),
				stream.WithMaxBatchSize(250),
				stream.WithEOFBehaviour(eof),
				stream.WithPerformanceLogging(stream.WallClock(), l),
			)
			err := consumer.Consume(ctx, p, func(_ context.Context, batch stream.Batch) error {
				printRecords(tpl, cmd.OutOrStdout(), batch.Records)
				return nil
			})
			if err != nil {
				l.Fatal("failed to consume partition", zap.Error(err))
			}
		},
	}
	partitionFlags(tail)
	tail.Flags().Int64("from-offset", -10, "Start offset, relative to the partition end when negative")
	tail.Flags().Int64("max-count", -1, "Stop after this number of records (-1 means no limit)")
	tail.Flags().BoolP("watch", "w", false, "Watch for new records")
	tail.Flags().String("format", recordTemplate, "Format each record using Golang template format.")
	cmd.AddCommand(tail)

	dump := &cobra.Command{
		Use:  "dump",
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			b, l := mustOpen(ctx, config)
			defer b.Close()
			p := mustPartition(b, l, config)
			file, err := os.Create(args[0])
			if err != nil {
				l.Fatal("failed to create dump file", zap.Error(err))
			}
			defer file.Close()
			var w io.Writer = file
			if zstdCompressed(args[0]) {
				encoder, err := zstd.NewWriter(file)
				if err != nil {
					l.Fatal("failed to create zstd encoder", zap.Error(err))
				}
				defer encoder.Close()
				w = encoder
			}
			started := time.Now()
			err = p.Dump(w, config.GetUint64("from-offset"), config.GetUint64("last-offset"))
			if err != nil {
				l.Fatal("failed to dump partition", zap.Error(err))
			}
			log.Printf("Dump done in %s\n", time.Since(started))
		},
	}
	partitionFlags(dump)
	dump.Flags().Uint64("from-offset", 0, "First dumped offset")
	dump.Flags().Uint64("last-offset", 0, "Stop before this offset (0 means the partition end)")
	cmd.AddCommand(dump)

	load := &cobra.Command{
		Use:  "load",
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			b, l := mustOpen(ctx, config)
			defer b.Close()
			p := mustPartition(b, l, config)
			file, err := os.Open(args[0])
			if err != nil {
				l.Fatal("failed to open dump file", zap.Error(err))
			}
			defer file.Close()
			var r io.Reader = file
			if zstdCompressed(args[0]) {
				decoder, err := zstd.NewReader(file)
				if err != nil {
					l.Fatal("failed to create zstd decoder", zap.Error(err))
				}
				defer decoder.Close()
				r = decoder
			}
			before := p.NextOffset()
			err = p.Load(r)
			if err != nil {
				l.Fatal("failed to load dump", zap.Error(err))
			}
			log.Printf("Load done: %d messages appended\n", p.NextOffset()-before)
		},
	}
	partitionFlags(load)
	cmd.AddCommand(load)
	return cmd
}
