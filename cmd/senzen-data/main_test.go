package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Gil-rei/Senzen/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// localConfig 内存仓储 + miniredis，不连接外部服务
func localConfig(t *testing.T, addr string) (*config.Config, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.HTTP.Addr = addr
	cfg.DBEnabled = false
	cfg.Redis.Addr = mr.Addr()
	cfg.MQTT.Enabled = false
	cfg.ImageHost.Cloud = ""
	cfg.Seed.Enabled = false
	return cfg, mr
}

func TestRun_ListenErrorReturnsAfterCleanup(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg, mr := localConfig(t, busy.Addr().String())

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), cfg, zap.NewNop()) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return on listen error")
	}
	// 延迟关闭已执行：Redis 连接已释放
	assert.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRun_StopsCleanlyOnCancel(t *testing.T) {
	cfg, _ := localConfig(t, "127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zap.NewNop()) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
