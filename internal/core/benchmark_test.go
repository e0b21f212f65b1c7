package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/yay-sys-tray/yst/pkg/api"
)

func BenchmarkMetricsRecording(b *testing.B) {
	metrics := NewMetrics()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		metrics.RecordRun(time.Millisecond, 4, i%3, i%10 == 0)
	}
}

func BenchmarkConcurrentMetrics(b *testing.B) {
	metrics := NewMetrics()

	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			metrics.RecordRun(time.Millisecond, 1, 0, false)
			_ = metrics.GetStats()
		}
	})
}

func BenchmarkParseTags(b *testing.B) {
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = ParseTags("server, tag:arch,,prod,server")
	}
}

func BenchmarkCheckRun(b *testing.B) {
	hosts := make([]string, 50)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("host%02d", i)
	}
	o := NewOrchestrator(&mockLocal{result: localResult("vim", "git")}, &mockRemote{}, &mockDiscoverer{hosts: hosts}, testConfig(true))

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		o.StartCheck()
		o.Wait()
	}
}

func BenchmarkTotalUpdates(b *testing.B) {
	res := &api.FullCheckResult{Local: localResult("a", "b", "c")}
	for i := 0; i < 100; i++ {
		res.Remote = append(res.Remote, api.NewHostResult(fmt.Sprintf("h%d", i), []api.UpdateInfo{{Package: "glibc"}}, nil))
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = res.TotalUpdates()
	}
}
