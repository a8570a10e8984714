package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/perch/broker"
	"go.uber.org/zap"
)

const streamTemplate = `{{ range $stream := . -}}
• {{ .ID | yellow }} {{ .Name | bold }} (created {{ .CreatedAt | timeToDuration }})
{{- range $topic := .Topics }}
    • {{ .ID | yellow }} {{ .Name | bold }}
{{- range $partition := .Partitions }}
        • partition {{ .ID | yellow }}: {{ .Statistics.MessagesCount }} messages in {{ .Statistics.SegmentCount }} segments, {{ .Statistics.StoredBytes | humanBytes }}
{{- end }}
{{- range $group := .Groups }}
        • group {{ .ID | yellow }} {{ .Name | bold }} [{{ .State | faint }}]
{{- end }}
{{- end }}
{{ end }}`

func Streams(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use: "streams",
	}
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Run: func(cmd *cobra.Command, args []string) {
			b, _ := mustOpen(ctx, config)
			defer b.Close()
			out := b.Streams(false)
			if config.GetString("output") == "yaml" {
				if err := printYAML(cmd.OutOrStdout(), out); err != nil {
					log.Print(err)
				}
				return
			}
			tpl := ParseTemplate(config.GetString("format"))
			err := tpl.Execute(cmd.OutOrStdout(), out)
			if err != nil {
				log.Print(err)
			}
		},
	}
	list.Flags().String("format", streamTemplate, "Format streams using Golang template format.")
	list.Flags().StringP("output", "o", "template", "Output format (template or yaml).")
	cmd.AddCommand(list)

	create := &cobra.Command{
		Use:     "create",
		Aliases: []string{"new"},
		Run: func(cmd *cobra.Command, args []string) {
			b, l := mustOpen(ctx, config)
			defer b.Close()
			err := b.CreateStream(ctx, config.GetUint32("id"), config.GetString("name"))
			if err != nil {
				l.Fatal("failed to create stream", zap.Error(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.GetUint32("id"))
		},
	}
	create.Flags().Uint32P("id", "i", 0, "The new stream ID")
	create.MarkFlagRequired("id")
	create.Flags().StringP("name", "n", "", "The new stream name")
	create.MarkFlagRequired("name")
	cmd.AddCommand(create)
	return cmd
}

func Topics(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use: "topics",
	}
	create := &cobra.Command{
		Use:     "create",
		Aliases: []string{"new"},
		Run: func(cmd *cobra.Command, args []string) {
			b, l := mustOpen(ctx, config)
			defer b.Close()
			err := b.CreateTopic(ctx, config.GetUint32("stream"), config.GetUint32("id"), config.GetString("name"), config.GetUint32("partitions"))
			if err != nil {
				l.Fatal("failed to create topic", zap.Error(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.GetUint32("id"))
		},
	}
	create.Flags().Uint32P("stream", "s", 0, "Stream ID")
	create.MarkFlagRequired("stream")
	create.Flags().Uint32P("id", "i", 0, "The new topic ID")
	create.MarkFlagRequired("id")
	create.Flags().StringP("name", "n", "", "The new topic name")
	create.MarkFlagRequired("name")
	create.Flags().Uint32P("partitions", "p", 1, "The new topic partition count")
	cmd.AddCommand(create)
	return cmd
}

func Segments(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use: "segments",
	}
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Run: func(cmd *cobra.Command, args []string) {
			b, l := mustOpen(ctx, config)
			defer b.Close()
			p, err := b.Partition(config.GetUint32("stream"), config.GetUint32("topic"), config.GetUint32("partition"))
			if err != nil {
				l.Fatal("failed to find partition", zap.Error(err))
			}
			segments := p.Segments()
			if config.GetString("output") == "yaml" {
				if err := printYAML(cmd.OutOrStdout(), segments); err != nil {
					log.Print(err)
				}
				return
			}
			table := getTable([]string{"Start offset", "Messages", "Size", "Fill", "Closed", "Index entries", "Time index entries", "Path"}, cmd.OutOrStdout())
			for _, segment := range segments {
				fill := "-"
				if segment.MaxSize > 0 {
					fill = fmt.Sprintf("%d%%", segment.Size*100/segment.MaxSize)
				}
				table.Append([]string{
					fmt.Sprintf("%d", segment.StartOffset),
					fmt.Sprintf("%d", segment.MessagesCount),
					humanize.Bytes(segment.Size),
					fill,
					fmt.Sprintf("%v", segment.Closed),
					fmt.Sprintf("%d", segment.IndexEntries),
					fmt.Sprintf("%d", segment.TimeIndexEntries),
					segment.Path,
				})
			}
			table.Render()
		},
	}
	list.Flags().Uint32P("stream", "s", 0, "Stream ID")
	list.MarkFlagRequired("stream")
	list.Flags().Uint32P("topic", "t", 0, "Topic ID")
	list.MarkFlagRequired("topic")
	list.Flags().Uint32P("partition", "p", 0, "Partition ID")
	list.Flags().StringP("output", "o", "table", "Output format (table or yaml).")
	cmd.AddCommand(list)
	return cmd
}

func findTopic(streams []broker.StreamDescription, streamID, topicID uint32) (broker.TopicDescription, bool) {
	for _, s := range streams {
		if s.ID != streamID {
			continue
		}
		for _, t := range s.Topics {
			if t.ID == topicID {
				return t, true
			}
		}
	}
	return broker.TopicDescription{}, false
}

func Groups(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use: "groups",
	}
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Run: func(cmd *cobra.Command, args []string) {
			b, l := mustOpen(ctx, config)
			defer b.Close()
			topic, ok := findTopic(b.Streams(false), config.GetUint32("stream"), config.GetUint32("topic"))
			if !ok {
				l.Fatal("topic not found")
			}
			if config.GetString("output") == "yaml" {
				if err := printYAML(cmd.OutOrStdout(), topic.Groups); err != nil {
					log.Print(err)
				}
				return
			}
			table := getTable([]string{"ID", "Name", "State", "Generation", "Committed offsets"}, cmd.OutOrStdout())
			for _, group := range topic.Groups {
				partitions := make([]uint32, 0, len(group.Offsets))
				for partitionID := range group.Offsets {
					partitions = append(partitions, partitionID)
				}
				sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })
				offsets := make([]string, len(partitions))
				for idx, partitionID := range partitions {
					offsets[idx] = fmt.Sprintf("%d:%d", partitionID, group.Offsets[partitionID])
				}
				table.Append([]string{
					fmt.Sprintf("%d", group.ID),
					group.Name,
					group.State,
					fmt.Sprintf("%d", group.Generation),
					strings.Join(offsets, " "),
				})
			}
			table.Render()
		},
	}
	list.Flags().Uint32P("stream", "s", 0, "Stream ID")
	list.MarkFlagRequired("stream")
	list.Flags().Uint32P("topic", "t", 0, "Topic ID")
	list.MarkFlagRequired("topic")
	list.Flags().StringP("output", "o", "table", "Output format (table or yaml).")
	cmd.AddCommand(list)

	create := &cobra.Command{
		Use:     "create",
		Aliases: []string{"new"},
		Run: func(cmd *cobra.Command, args []string) {
			b, l := mustOpen(ctx, config)
			defer b.Close()
			err := b.CreateConsumerGroup(ctx, config.GetUint32("stream"), config.GetUint32("topic"), config.GetUint32("id"), config.GetString("name"))
			if err != nil {
				l.Fatal("failed to create consumer group", zap.Error(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.GetUint32("id"))
		},
	}
	create.Flags().Uint32P("stream", "s", 0, "Stream ID")
	create.MarkFlagRequired("stream")
	create.Flags().Uint32P("topic", "t", 0, "Topic ID")
	create.MarkFlagRequired("topic")
	create.Flags().Uint32P("id", "i", 0, "The new consumer group ID")
	create.MarkFlagRequired("id")
	create.Flags().StringP("name", "n", "", "The new consumer group name")
	create.MarkFlagRequired("name")
	cmd.AddCommand(create)

	remove := &cobra.Command{
		Use:     "delete",
		Aliases: []string{"rm"},
		Run: func(cmd *cobra.Command, args []string) {
			b, l := mustOpen(ctx, config)
			defer b.Close()
			err := b.DeleteConsumerGroup(ctx, config.GetUint32("stream"), config.GetUint32("topic"), config.GetUint32("id"))
			if err != nil {
				l.Fatal("failed to delete consumer group", zap.Error(err))
			}
		},
	}
	remove.Flags().Uint32P("stream", "s", 0, "Stream ID")
	remove.MarkFlagRequired("stream")
	remove.Flags().Uint32P("topic", "t", 0, "Topic ID")
	remove.MarkFlagRequired("topic")
	remove.Flags().Uint32P("id", "i", 0, "Consumer group ID")
	remove.MarkFlagRequired("id")
	cmd.AddCommand(remove)

	commit := &cobra.Command{
		Use: "commit",
		Run: func(cmd *cobra.Command, args []string) {
			b, l := mustOpen(ctx, config)
			defer b.Close()
			err := b.CommitOffset(ctx, config.GetUint32("stream"), config.GetUint32("topic"), config.GetUint32("id"),
				config.GetUint32("partition"), config.GetUint64("offset"), config.GetBool("force"))
			if err != nil {
				l.Fatal("failed to commit offset", zap.Error(err))
			}
		},
	}
	commit.Flags().Uint32P("stream", "s", 0, "Stream ID")
	commit.MarkFlagRequired("stream")
	commit.Flags().Uint32P("topic", "t", 0, "Topic ID")
	commit.MarkFlagRequired("topic")
	commit.Flags().Uint32P("id", "i", 0, "Consumer group ID")
	commit.MarkFlagRequired("id")
	commit.Flags().Uint32P("partition", "p", 0, "Partition ID")
	commit.Flags().Uint64("offset", 0, "Next offset the group will consume")
	commit.MarkFlagRequired("offset")
	commit.Flags().Bool("force", false, "Allow moving the committed offset backward")
	cmd.AddCommand(commit)
	return cmd
}
