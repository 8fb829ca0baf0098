package cli

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"Fenrir/internal/coordinator"
)

// renderProgress 消费流水线事件直到通道关闭
func renderProgress(w io.Writer, events <-chan coordinator.Event, total int, quiet bool) {
	if quiet {
		for range events {
		}
		return
	}

	warn := pterm.Warning.WithWriter(w)
	info := pterm.Info.WithWriter(w)

	bar, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle("扫描中").
		WithWriter(w).
		WithRemoveWhenDone(true).
		Start()
	if err != nil {
		bar = nil
	}

	for ev := range events {
		switch ev.Type {
		case coordinator.EventStageStarted:
			if bar != nil {
				bar.UpdateTitle(fmt.Sprintf("%s: %s", ev.Target, ev.Stage))
			}
		case coordinator.EventStageFailed:
			warn.Printfln("目标 %s 模块 %s 失败: %s", ev.Target, ev.Stage, ev.Err)
		case coordinator.EventHostDown:
			info.Printfln("目标 %s 离线", ev.Target)
		case coordinator.EventTargetDone:
			if bar != nil {
				bar.Increment()
			}
		}
	}

	if bar != nil {
		bar.Stop()
	}
}
