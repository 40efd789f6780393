package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/kodapet/koda/internal/engine"
	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/gt"
	"github.com/mattn/go-runewidth"
)

func TestCell(t *testing.T) {
	gt.Equal(t, cell("abc", 5), "abc  ")
	gt.Equal(t, runewidth.StringWidth(cell("小白去公园散步了", 8)), 8)
	gt.S(t, cell("小白去公园散步了", 8)).Contains("…")
	gt.Equal(t, cell("a\n  b", 4), "a b ")
}

func TestPrintFragments(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printFragments(&buf, []model.Fragment{
		{ID: "01HZX", Content: "小白第一次游泳", Importance: 0.6, Emotion: model.EmotionHappy, Timestamp: now.Add(-48 * time.Hour)},
		{ID: "01HZY", Content: "checkup", Importance: 0.5, Timestamp: now},
	}, now)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	gt.A(t, lines).Length(3)
	gt.S(t, lines[0]).Contains("CONTENT")
	gt.S(t, lines[1]).Contains("小白第一次游泳")
	gt.S(t, lines[1]).Contains("0.60")
	gt.S(t, lines[1]).Contains("happy")
	gt.S(t, lines[1]).Contains("2 days ago")
	gt.S(t, lines[2]).Contains(" - ")
}

func TestPrintRanked(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer
	printRanked(&buf, []engine.Ranked{{
		Fragment: model.Fragment{ID: "01HZX", Content: "去公园", Importance: 0.7, Timestamp: now},
		Keyword:  1, Recency: 1, Score: 0.91,
	}}, now)
	gt.S(t, buf.String()).Contains("1. [0.910] 去公园")
	gt.S(t, buf.String()).Contains("keyword 1.00")
}

// runCLI executes the root command against a throwaway sqlite database with
// generation disabled.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cfg := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(cfg); os.IsNotExist(err) {
		data := "database:\n  driver: sqlite\n  path: " + filepath.Join(dir, "koda.db") +
			"\nllm:\n  provider: none\nlog:\n  level: error\n"
		gt.NoError(t, os.WriteFile(cfg, []byte(data), 0644))
	}
	t.Setenv("KODA_DB", "")
	t.Setenv("DATABASE_URL", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestImportAndList(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "chat.jsonl")
	lines := []string{
		`{"role":"user","content":"小白今天第一次学会了握手","timestamp":"2024-05-30T10:00:00Z"}`,
		`{"role":"assistant","content":"太棒了！","timestamp":"2024-05-30T10:00:05Z"}`,
		`{"role":"user","content":"我们明天去公园吧","timestamp":"2024-05-30T10:01:00Z"}`,
	}
	gt.NoError(t, os.WriteFile(log, []byte(strings.Join(lines, "\n")+"\n"), 0644))

	out, err := runCLI(t, dir, "import", "--pet", "pet-1", log)
	gt.NoError(t, err)
	gt.S(t, out).Contains("imported 3 messages (2 from the user)")
	gt.S(t, out).Contains("对话记录")
	gt.S(t, out).Contains("memories:  3")

	out, err = runCLI(t, dir, "memories", "--pet", "pet-1", "--from", "2024-05-01", "--limit", "2")
	gt.NoError(t, err)
	gt.S(t, out).Contains("握手")
	gt.S(t, out).Contains("... 1 more")

	out, err = runCLI(t, dir, "dedup", "--pet", "pet-1")
	gt.NoError(t, err)
	gt.S(t, out).Contains("No duplicates found.")
}

func TestMemoriesRejectsBadTime(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "memories", "--pet", "pet-1", "--from", "last week", "--limit", "20")
	gt.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "version")
	gt.NoError(t, err)
	gt.S(t, out).Contains("koda dev")
	gt.S(t, out).Contains(runtime.Version())

	out, err = runCLI(t, t.TempDir(), "version", "--json")
	gt.NoError(t, err)
	var b buildInfo
	gt.NoError(t, json.Unmarshal([]byte(out), &b))
	gt.Equal(t, b.Version, "dev")
	gt.Equal(t, b.Platform, runtime.GOOS+"/"+runtime.GOARCH)
	versionJSON = false
}

func TestPetLogAndMood(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "pet", "pet-1")
	gt.NoError(t, err)
	gt.S(t, out).Contains("No profile yet.")

	out, err = runCLI(t, dir, "pet", "pet-1", "--name", "小白", "--species", "狗", "--age", "2")
	gt.NoError(t, err)
	gt.S(t, out).Contains("saved pet-1 (小白)")

	out, err = runCLI(t, dir, "log", "--pet", "pet-1", "--type", "health", "--emotion", "", "去医院打了疫苗")
	gt.NoError(t, err)
	gt.S(t, out).Contains("logged health event")

	_, err = runCLI(t, dir, "log", "--pet", "pet-1", "--type", "walk", "--emotion", "", "出门")
	gt.Error(t, err)

	out, err = runCLI(t, dir, "log", "--pet", "pet-1", "--type", "emotion", "--emotion", "happy", "今天特别开心")
	gt.NoError(t, err)
	gt.S(t, out).Contains("logged emotion event")

	out, err = runCLI(t, dir, "mood", "--pet", "pet-1", "--days", "3")
	gt.NoError(t, err)
	gt.S(t, out).Contains("happy")
	gt.S(t, out).Contains("(1 logs)")
}
