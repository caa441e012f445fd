package cloudfleet

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/config"
	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSyncAgainstMySQLAndRedis runs two full syncs against real MySQL and Redis containers.
func TestSyncAgainstMySQLAndRedis(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })
	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", "127.0.0.1:"+redisPort)
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "cloudfleet_test")

	require.NoError(t, config.ConnectDatabase(10))
	config.ConnectRedisWithRetry()
	t.Cleanup(func() { config.SetRedisClient(nil) })
	require.NoError(t, models.AutoMigrate(config.GetDB()))
	db := config.GetDB()

	upstream := newFakeUpstream(t)
	serveHappyUpstream(upstream)
	syncer, _ := newTestSyncer(t, db, upstream.URL, WithLease(NewDynamicLease(config.GetRedisLock)))

	first, err := syncer.Run(ctx, Trigger{By: models.SyncTriggeredManual})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Stats.Orders.New)
	assert.Equal(t, 2, first.Stats.Issues.New)

	second, err := syncer.Run(ctx, Trigger{By: models.SyncTriggeredManual})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Stats.Orders.Updated)
	assert.Equal(t, 2, second.Stats.Issues.Updated)
	assert.Equal(t, 1, second.Stats.Checklists.Updated)

	var labors int64
	require.NoError(t, db.Model(&models.WorkOrderLabor{}).Count(&labors).Error)
	assert.Equal(t, int64(1), labors)

	// a run holding the Redis lease blocks every other replica
	lease := NewRedisLease(config.GetRedisLock())
	release, err := lease.Acquire(ctx, config.DefaultSyncLockKey, time.Minute)
	require.NoError(t, err)
	_, err = syncer.Run(ctx, Trigger{By: models.SyncTriggeredManual})
	assert.ErrorIs(t, err, ErrRunInProgress)
	require.NoError(t, release(ctx))

	// a lease held past its ttl is refreshed and stays exclusive
	short, err := lease.Acquire(ctx, "lock:cloudfleet-sync-ttl", 300*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(time.Second)
	_, err = lease.Acquire(ctx, "lock:cloudfleet-sync-ttl", 300*time.Millisecond)
	assert.ErrorIs(t, err, ErrRunInProgress)
	require.NoError(t, short(ctx))
	again, err := lease.Acquire(ctx, "lock:cloudfleet-sync-ttl", 300*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("cloudfleet-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun("run", "-d", "--name", name, "-p", "127.0.0.1:0:6379", "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("cloudfleet-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=cloudfleet_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// "127.0.0.1:49154\n"
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	out, err := exec.Command("docker", args...).CombinedOutput()
	return string(out), err
}
