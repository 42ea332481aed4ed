package telegram

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maauso/vidcompress/internal/hoststats"
	"github.com/maauso/vidcompress/internal/job"
	"github.com/maauso/vidcompress/internal/media"
	"github.com/maauso/vidcompress/internal/preset"
	"github.com/maauso/vidcompress/internal/progress"
	"github.com/maauso/vidcompress/internal/sizefmt"
)

// Callback data values.
const (
	callbackPresetPrefix = "preset:"
	callbackCancel       = "cancel"

	callbackMenuCompress = "menu:compress"
	callbackMenuHelp     = "menu:help"
	callbackMenuStatus   = "menu:status"
)

const barWidth = 20

var spinnerFrames = []string{"◐", "◓", "◑", "◒"}

// Caption renders the message attached to a compressed result.
func Caption(meta job.UploadMetadata) string {
	var b strings.Builder
	b.WriteString("✅ <b>Compression complete</b>\n\n")
	fmt.Fprintf(&b, "Preset: %s\n", html.EscapeString(meta.Preset.DisplayName))
	fmt.Fprintf(&b, "Original: %s\n", sizefmt.Format(meta.InputBytes))
	fmt.Fprintf(&b, "Compressed: %s\n", sizefmt.Format(meta.OutputBytes))
	fmt.Fprintf(&b, "Reduction: %.1f%%\n", meta.ReductionPercent)
	fmt.Fprintf(&b, "Time: %s", formatDuration(meta.Elapsed))
	if meta.ArchiveURL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Archived copy</a>", html.EscapeString(meta.ArchiveURL))
	}
	return b.String()
}

// FailureText renders a failed job for the user, naming the stage it
// failed in.
func FailureText(err error) string {
	switch {
	case errors.Is(err, job.ErrAlreadyActive):
		return "⏳ You already have a compression running. Use /cancel to stop it."
	case errors.Is(err, job.ErrCancelled):
		return "🚫 Compression cancelled."
	case errors.Is(err, preset.ErrUnknownPreset):
		return "❌ Unknown preset. Please send the video again."
	case media.TimedOut(err):
		return "❌ Compression took too long and was stopped. Try a faster preset."
	}

	stage, ok := job.FailedStage(err)
	if !ok {
		return "❌ Something went wrong. Please try again."
	}
	switch stage {
	case job.StateDownloading:
		return "❌ Could not download your video."
	case job.StateProbing:
		return "❌ Could not read your video. Is the file a valid video?"
	case job.StateTranscoding:
		return "❌ Compression failed."
	case job.StateUploading:
		return "❌ Could not send the compressed file."
	default:
		return fmt.Sprintf("❌ Failed while %s.", strings.ToLower(string(stage)))
	}
}

// ProgressText renders a progress event for the status message.
func ProgressText(presetName string, e progress.Event) string {
	label := stageLabel(e.Stage)
	header := fmt.Sprintf("⚙️ <b>%s</b> · %s", label, html.EscapeString(presetName))

	if e.Indeterminate {
		frame := spinnerFrames[int(e.Processed)%len(spinnerFrames)]
		detail := ""
		switch {
		case e.Stage == progress.StageTranscoding && e.Processed > 0:
			detail = fmt.Sprintf(" %s processed", formatDuration(time.Duration(e.Processed*float64(time.Second))))
		case e.Processed > 0:
			detail = " " + sizefmt.Format(int64(e.Processed))
		}
		return fmt.Sprintf("%s\n%s working...%s", header, frame, detail)
	}

	line := progress.Bar(e.Percent, barWidth)
	if e.Stage != progress.StageTranscoding && e.Total > 0 {
		line += fmt.Sprintf("\n%s / %s", sizefmt.Format(int64(e.Processed)), sizefmt.Format(int64(e.Total)))
	}
	return header + "\n" + line
}

func stageLabel(s progress.Stage) string {
	switch s {
	case progress.StageDownloading:
		return "Downloading"
	case progress.StageProbing:
		return "Analyzing"
	case progress.StageTranscoding:
		return "Compressing"
	case progress.StageUploading:
		return "Uploading"
	default:
		return string(s)
	}
}

// PresetKeyboard lists every preset with its estimated output size.
func PresetKeyboard(catalog *preset.Catalog, sourceBytes int64) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range catalog.List() {
		label := p.DisplayName
		if est, err := catalog.EstimateOutputSize(sourceBytes, p.Key); err == nil && sourceBytes > 0 {
			label = fmt.Sprintf("%s (~%s)", p.DisplayName, sizefmt.Format(est))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackPresetPrefix+p.Key),
		))
	}
	rows = append(rows, cancelRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func cancelKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(cancelRow())
}

func cancelRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✖ Cancel", callbackCancel))
}

// startKeyboard is the menu attached to /start.
func startKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎬 Start compressing", callbackMenuCompress),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❓ Help", callbackMenuHelp),
			tgbotapi.NewInlineKeyboardButtonData("📊 Status", callbackMenuStatus),
		),
	)
}

func compressPromptText(maxBytes int64) string {
	text := "📤 Send me a video, or a video file as a document."
	if maxBytes > 0 {
		text += "\nMaximum size: " + sizefmt.Format(maxBytes) + "."
	}
	return text
}

func chooseText(src job.SourceRef) string {
	name := src.FileName
	if name == "" {
		name = "video"
	}
	return fmt.Sprintf("🎬 <b>%s</b> (%s)\nChoose a compression preset:",
		html.EscapeString(name), sizefmt.Format(src.FileSize))
}

func startText() string {
	return "👋 Send me a video and I will compress it for you.\n\n" +
		"Pick a preset after uploading and I will send back a smaller file."
}

func helpText(catalog *preset.Catalog, maxBytes int64) string {
	var b strings.Builder
	b.WriteString("<b>How to use</b>\n")
	b.WriteString("1. Send a video (or a video file as a document).\n")
	b.WriteString("2. Choose a preset.\n")
	b.WriteString("3. Wait for the compressed file.\n\n")
	b.WriteString("<b>Presets</b>\n")
	for _, p := range catalog.List() {
		fmt.Fprintf(&b, "• <b>%s</b>", html.EscapeString(p.DisplayName))
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", html.EscapeString(p.Description))
		}
		b.WriteString("\n")
	}
	if maxBytes > 0 {
		fmt.Fprintf(&b, "\nMaximum file size: %s\n", sizefmt.Format(maxBytes))
	}
	b.WriteString("\n/status shows your current job, /cancel stops it.")
	return b.String()
}

// statusInfo is what /status reports.
type statusInfo struct {
	View          job.View
	HasJob        bool
	TempFiles     int
	MaxBytes      int64
	MaxConcurrent int
	Host          *hoststats.Snapshot
}

func statusText(s statusInfo) string {
	var b strings.Builder
	b.WriteString("📊 <b>Status</b>\n\n")
	if s.HasJob {
		fmt.Fprintf(&b, "Your job: %s (%s)\n", strings.ToLower(string(s.View.State)), html.EscapeString(s.View.PresetKey))
		if !s.View.State.IsTerminal() {
			fmt.Fprintf(&b, "Progress: %.0f%%\n", s.View.LastProgressPercent)
		}
		if s.View.CancelRequested {
			b.WriteString("Cancellation requested\n")
		}
	} else {
		b.WriteString("Your job: none\n")
	}
	if s.TempFiles >= 0 {
		fmt.Fprintf(&b, "Temp files: %d\n", s.TempFiles)
	}
	if s.MaxBytes > 0 {
		fmt.Fprintf(&b, "Max file size: %s\n", sizefmt.Format(s.MaxBytes))
	}
	if s.MaxConcurrent > 0 {
		fmt.Fprintf(&b, "Concurrent compressions: %d\n", s.MaxConcurrent)
	}
	if h := s.Host; h != nil {
		b.WriteString("\n<b>Server</b>\n")
		fmt.Fprintf(&b, "CPU: %.0f%%\n", h.CPUPercent)
		fmt.Fprintf(&b, "Memory: %s / %s (%.0f%%)\n",
			sizefmt.Format(int64(h.MemoryUsed)), sizefmt.Format(int64(h.MemoryTotal)), h.MemoryPercent)
		fmt.Fprintf(&b, "Disk: %s / %s (%.0f%%)\n",
			sizefmt.Format(int64(h.DiskUsed)), sizefmt.Format(int64(h.DiskTotal)), h.DiskPercent)
	}
	return strings.TrimRight(b.String(), "\n")
}

func doneText(s job.Summary) string {
	return fmt.Sprintf("✅ Done: %s → %s (%.1f%% smaller) in %s",
		sizefmt.Format(s.InputBytes), sizefmt.Format(s.OutputBytes), s.ReductionPercent, formatDuration(s.Duration))
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	m := d / time.Minute
	sec := (d % time.Minute) / time.Second
	if m < 60 {
		return fmt.Sprintf("%dm%02ds", m, sec)
	}
	return fmt.Sprintf("%dh%02dm", m/60, m%60)
}
