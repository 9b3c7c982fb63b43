package main

import (
	"testing"
	"time"

	"NewsRAG/internal/config"
)

func TestIngestScheduleResolvesFlagsAndConfig(t *testing.T) {
	t.Parallel()

	configured := config.IngestionConfig{RepeatEvery: 45 * time.Minute, EmbedAfter: true}

	tests := []struct {
		name      string
		args      []string
		cfg       config.IngestionConfig
		wantEvery time.Duration
		wantEmbed bool
	}{
		{name: "config defaults run once", args: nil, cfg: config.IngestionConfig{}, wantEvery: 0, wantEmbed: false},
		{name: "config seeds unchanged flags", args: nil, cfg: configured, wantEvery: 45 * time.Minute, wantEmbed: true},
		{name: "bare repeat means thirty minutes", args: []string{"--repeat"}, cfg: config.IngestionConfig{}, wantEvery: 30 * time.Minute},
		{name: "explicit repeat wins", args: []string{"--repeat=5"}, cfg: configured, wantEvery: 5 * time.Minute, wantEmbed: true},
		{name: "repeat zero forces a single run", args: []string{"--repeat=0"}, cfg: configured, wantEvery: 0, wantEmbed: true},
		{name: "embed flag overrides config", args: []string{"--embed=false"}, cfg: configured, wantEvery: 45 * time.Minute, wantEmbed: false},
		{name: "embed flag enables", args: []string{"--embed"}, cfg: config.IngestionConfig{}, wantEvery: 0, wantEmbed: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd := ingestCmd()
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags(%v): %v", tt.args, err)
			}
			repeatMin, err := cmd.Flags().GetInt("repeat")
			if err != nil {
				t.Fatalf("repeat flag: %v", err)
			}
			embedAfter, err := cmd.Flags().GetBool("embed")
			if err != nil {
				t.Fatalf("embed flag: %v", err)
			}

			every, embed := ingestSchedule(cmd, tt.cfg, repeatMin, embedAfter)
			if every != tt.wantEvery || embed != tt.wantEmbed {
				t.Fatalf("got every=%s embed=%t, want every=%s embed=%t", every, embed, tt.wantEvery, tt.wantEmbed)
			}
		})
	}
}
