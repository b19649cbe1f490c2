package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/models"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// setupIntegration spins up throwaway MySQL and Redis containers, connects
// the globals and returns a context carrying a fresh business id. Tests that
// call it are skipped unless INTEGRATION_TESTS=1 (requires docker).
func setupIntegration(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "parts_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if err := models.MigrateTable(config.GetDB()); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, uuid.NewString())
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx
}

func mustCreatePart(t *testing.T, ctx context.Context, partNo string, price decimal.Decimal) *models.Part {
	t.Helper()
	part, err := models.CreatePart(ctx, &models.NewPart{
		PartNo:      partNo,
		Description: partNo + " test part",
		PriceA:      price,
		PriceB:      price,
		PriceM:      price,
	})
	if err != nil {
		t.Fatalf("CreatePart(%s): %v", partNo, err)
	}
	return part
}

func mustReceiveStock(t *testing.T, ctx context.Context, partId int, location string, qty decimal.Decimal) {
	t.Helper()
	_, err := models.CreateStockReceipt(ctx, &models.NewStockReceipt{
		PartId:       partId,
		LocationCode: location,
		Qty:          qty,
	})
	if err != nil {
		t.Fatalf("CreateStockReceipt: %v", err)
	}
}

func fetchBucket(t *testing.T, ctx context.Context, partId int, location string) models.StockBucket {
	t.Helper()
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	var bucket models.StockBucket
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND part_id = ? AND location_code = ?", businessId, partId, location).
		First(&bucket).Error
	if err != nil {
		t.Fatalf("fetch stock bucket: %v", err)
	}
	return bucket
}

func assertBucket(t *testing.T, bucket models.StockBucket, onHand, reserved string) {
	t.Helper()
	if !bucket.OnHand.Equal(dec(onHand)) || !bucket.Reserved.Equal(dec(reserved)) {
		t.Fatalf("bucket part=%d: on_hand=%s reserved=%s, want on_hand=%s reserved=%s",
			bucket.PartId, bucket.OnHand, bucket.Reserved, onHand, reserved)
	}
	if bucket.Reserved.GreaterThan(bucket.OnHand) || bucket.Reserved.IsNegative() {
		t.Fatalf("bucket part=%d violates 0 <= reserved <= on_hand (on_hand=%s reserved=%s)",
			bucket.PartId, bucket.OnHand, bucket.Reserved)
	}
}

func assertItemInvariant(t *testing.T, invoice *models.Invoice) {
	t.Helper()
	for _, item := range invoice.Items {
		if !item.DeliveredQty.Add(item.PendingQty).Equal(item.OrderedQty) {
			t.Fatalf("item %d: delivered %s + pending %s != ordered %s",
				item.ID, item.DeliveredQty, item.PendingQty, item.OrderedQty)
		}
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("parts-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("parts-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=parts_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
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
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
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
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
