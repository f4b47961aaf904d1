package service

import (
	"fmt"
	"io"
	"sort"

	"github.com/QingMing-Bot/provision-check/internal/domain"
)

// SlowestResources 按耗时升序稳定排序（并列保持首次出现顺序），取末尾 n 个，最慢的在前
func SlowestResources(res domain.CommandResult, n int) []domain.ResourceTiming {
	if n <= 0 || len(res.MetricKeys) == 0 {
		return nil
	}
	timings := make([]domain.ResourceTiming, 0, len(res.MetricKeys))
	for _, k := range res.MetricKeys {
		timings = append(timings, domain.ResourceTiming{Resource: k, Seconds: res.Metrics[k]})
	}
	sort.SliceStable(timings, func(i, j int) bool { return timings[i].Seconds < timings[j].Seconds })
	if len(timings) > n {
		timings = timings[len(timings)-n:]
	}
	out := make([]domain.ResourceTiming, 0, len(timings))
	for i := len(timings) - 1; i >= 0; i-- {
		out = append(out, timings[i])
	}
	return out
}

// PrintSlowest 输出一次 agent 运行的最慢资源
func PrintSlowest(w io.Writer, run int, slowest []domain.ResourceTiming) {
	fmt.Fprintf(w, "agent run %d: top %d slowest resources\n", run, len(slowest))
	for _, t := range slowest {
		fmt.Fprintf(w, "  %8.2fs  %s\n", t.Seconds, t.Resource)
	}
}
