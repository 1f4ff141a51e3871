package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/rental_backend/config"
	"bitbucket.org/mmdatafocus/rental_backend/models"
	"bitbucket.org/mmdatafocus/rental_backend/utils"
	"bitbucket.org/mmdatafocus/rental_backend/workflow"
	"github.com/shopspring/decimal"
)

func TestAssetLifecycleEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "rental_test")
	// Deterministic ledger: per-field rows commit with the movement.
	t.Setenv("STRICT_HISTORY_WRITES", "true")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	// Every write path attributes to an actor.
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test Operator")
	ctx = utils.SetUsernameInContext(ctx, "test@local")

	// 1) Register: every unit starts in the warehouse.
	outgoing, err := models.CreateAsset(ctx, &models.NewAsset{
		AssetCode:     "EXC-001",
		Name:          "20t excavator",
		WarehouseNote: utils.StringPtr("New arrival"),
	})
	if err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	if outgoing.LocationType != models.LocationTypeWarehouse {
		t.Fatalf("new asset state = %s, want Warehouse", outgoing.LocationType)
	}

	// 2) Rent it out; the warehouse note must not survive the move.
	start := time.Now().UTC()
	rate := decimal.NewFromInt(1500)
	outgoing, err = workflow.ApplyTransition(ctx, outgoing.ID, models.LocationTypeRented, &models.TransitionInput{
		Company:        utils.StringPtr("Malta Rentals Ltd"),
		WorkSite:       utils.StringPtr("Valletta waterfront"),
		ContractNumber: utils.StringPtr("CN-2024-001"),
		StartDate:      &start,
		MonthlyRate:    &rate,
	})
	if err != nil {
		t.Fatalf("transition to Rented: %v", err)
	}
	if utils.DereferencePtr(outgoing.RentalCompany) != "Malta Rentals Ltd" {
		t.Fatalf("rental_company = %v", outgoing.RentalCompany)
	}
	assertStatePurity(t, outgoing)

	// Missing required field is rejected before any write.
	_, err = workflow.ApplyTransition(ctx, outgoing.ID, models.LocationTypeMaintenance, &models.TransitionInput{
		Company: utils.StringPtr("Repair Co"),
	})
	var required *models.RequiredFieldError
	if !errors.As(err, &required) {
		t.Fatalf("incomplete maintenance payload: got %v, want RequiredFieldError", err)
	}

	// 3) Park it for inspection; rental columns clear, inspection clock starts.
	outgoing, err = workflow.ApplyTransition(ctx, outgoing.ID, models.LocationTypeAwaitingReport, &models.TransitionInput{
		Note: utils.StringPtr("Contract ended, check tracks"),
	})
	if err != nil {
		t.Fatalf("transition to AwaitingReport: %v", err)
	}
	if outgoing.InspectionStartDate == nil {
		t.Fatal("inspection_start_date not stamped")
	}
	if outgoing.RentalCompany != nil {
		t.Fatalf("rental_company survived AwaitingReport: %v", *outgoing.RentalCompany)
	}
	assertStatePurity(t, outgoing)

	// Nothing but a gate decision exits AwaitingReport.
	_, err = workflow.ApplyTransition(ctx, outgoing.ID, models.LocationTypeWarehouse, nil)
	if !errors.Is(err, models.ErrAwaitingInspectionDecision) {
		t.Fatalf("direct exit from AwaitingReport: got %v, want ErrAwaitingInspectionDecision", err)
	}
	_, err = models.ToggleActiveAsset(ctx, outgoing.ID, false)
	if !errors.Is(err, models.ErrAwaitingInspectionDecision) {
		t.Fatalf("retiring unit awaiting report: got %v, want ErrAwaitingInspectionDecision", err)
	}

	// 4) Replace after inspection: incoming takes over the vacated role.
	incoming, err := models.CreateAsset(ctx, &models.NewAsset{
		AssetCode: "EXC-002",
		Name:      "20t excavator",
	})
	if err != nil {
		t.Fatalf("CreateAsset incoming: %v", err)
	}

	arrival := time.Now().UTC()
	outgoing, incoming, err = workflow.ReplaceAfterInspection(ctx, outgoing.ID, incoming.ID,
		"track damage beyond on-site repair",
		models.LocationTypeMaintenance,
		&models.TransitionInput{
			Company:     utils.StringPtr("Repair Co"),
			WorkSite:    utils.StringPtr("Marsa depot"),
			Description: utils.StringPtr("Track replacement"),
			ArrivalDate: &arrival,
		})
	if err != nil {
		t.Fatalf("ReplaceAfterInspection: %v", err)
	}

	if incoming.LocationType != models.LocationTypeRented {
		t.Fatalf("incoming state = %s, want Rented", incoming.LocationType)
	}
	// The vacated role was recovered from the ledger, not from the cleared row.
	if utils.DereferencePtr(incoming.RentalCompany) != "Malta Rentals Ltd" {
		t.Fatalf("incoming rental_company = %v, want recovered role", incoming.RentalCompany)
	}
	if utils.DereferencePtr(incoming.RentalContractNumber) != "CN-2024-001" {
		t.Fatalf("incoming rental_contract_number = %v", incoming.RentalContractNumber)
	}
	if outgoing.LocationType != models.LocationTypeMaintenance {
		t.Fatalf("outgoing state = %s, want Maintenance", outgoing.LocationType)
	}
	if outgoing.ReplacedById == nil || *outgoing.ReplacedById != incoming.ID {
		t.Fatalf("replaced_by_id = %v, want %d", outgoing.ReplacedById, incoming.ID)
	}
	if outgoing.WasReplaced == nil || !*outgoing.WasReplaced {
		t.Fatal("was_replaced not set")
	}
	assertStatePurity(t, outgoing)
	assertStatePurity(t, incoming)

	// 5) The link is set exactly once.
	third, err := models.CreateAsset(ctx, &models.NewAsset{AssetCode: "EXC-003", Name: "20t excavator"})
	if err != nil {
		t.Fatalf("CreateAsset third: %v", err)
	}
	_, _, err = workflow.ReplaceAsset(ctx, outgoing.ID, third.ID, "second replacement attempt", models.LocationTypeWarehouse, nil)
	if !errors.Is(err, models.ErrAlreadyReplaced) {
		t.Fatalf("second replacement: got %v, want ErrAlreadyReplaced", err)
	}

	// A rented unit cannot be pulled in as a substitute.
	rentedOut, err := workflow.ApplyTransition(ctx, third.ID, models.LocationTypeRented, &models.TransitionInput{
		Company:        utils.StringPtr("Gozo Builders"),
		WorkSite:       utils.StringPtr("Victoria site"),
		ContractNumber: utils.StringPtr("CN-2024-002"),
		StartDate:      &start,
	})
	if err != nil {
		t.Fatalf("transition third to Rented: %v", err)
	}
	_, _, err = workflow.ReplaceAsset(ctx, rentedOut.ID, incoming.ID, "swap for rented unit", models.LocationTypeWarehouse, nil)
	if !errors.Is(err, models.ErrIncomingNotEligible) {
		t.Fatalf("rented incoming: got %v, want ErrIncomingNotEligible", err)
	}

	// 6) Ledger round-trip.
	timeline, err := models.GetAssetTimeline(ctx, "EXC-001")
	if err != nil {
		t.Fatalf("GetAssetTimeline: %v", err)
	}
	if len(timeline) == 0 {
		t.Fatal("empty timeline for EXC-001")
	}
	if !strings.Contains(timeline[0].Detail, "Registered EXC-001") {
		t.Fatalf("first ledger row = %q, want registration", timeline[0].Detail)
	}
	for _, row := range timeline {
		if row.AssetCode != "EXC-001" {
			t.Fatalf("ledger row %d carries asset_code %q", row.ID, row.AssetCode)
		}
		if row.UserId != 1 || row.UserName != "Test Operator" {
			t.Fatalf("ledger row %d not attributed: user_id=%d user_name=%q", row.ID, row.UserId, row.UserName)
		}
	}

	replacementType := models.HistoryActionTypeReplacement
	replacements, err := models.GetHistories(ctx, nil, nil, &replacementType, nil, 0, 0)
	if err != nil {
		t.Fatalf("GetHistories: %v", err)
	}
	if len(replacements) != 1 {
		t.Fatalf("replacement ledger rows = %d, want 1", len(replacements))
	}
	if !strings.Contains(replacements[0].Detail, "EXC-001") || !strings.Contains(replacements[0].Detail, "EXC-002") {
		t.Fatalf("replacement detail = %q", replacements[0].Detail)
	}
	replacementRow, err := models.GetHistory(ctx, replacements[0].ID)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if replacementRow.ActionType != models.HistoryActionTypeReplacement {
		t.Fatalf("ledger row %d action = %s", replacementRow.ID, replacementRow.ActionType)
	}

	byCode, err := models.GetAssetByCode(ctx, "EXC-002")
	if err != nil {
		t.Fatalf("GetAssetByCode: %v", err)
	}
	if byCode.ID != incoming.ID {
		t.Fatalf("lookup by code returned asset %d, want %d", byCode.ID, incoming.ID)
	}

	// The recovery source: the clearing of rental_company on the way into
	// AwaitingReport kept the old value on the ledger.
	fieldType := models.HistoryActionTypeFieldChange
	fieldRows, err := models.GetHistories(ctx, &outgoing.ID, nil, &fieldType, nil, 0, 0)
	if err != nil {
		t.Fatalf("GetHistories field changes: %v", err)
	}
	foundClear := false
	for _, row := range fieldRows {
		if row.ChangedField == "rental_company" && row.OldValue == "Malta Rentals Ltd" && row.NewValue == "" {
			foundClear = true
		}
	}
	if !foundClear {
		t.Fatal("no ledger row recording the cleared rental_company")
	}

	if dropped := workflow.DroppedHistoryWrites(); dropped != 0 {
		t.Fatalf("%d audit rows dropped under STRICT_HISTORY_WRITES", dropped)
	}
}

// assertStatePurity fails if any column owned by a state other than the
// asset's current one still carries a value.
func assertStatePurity(t *testing.T, asset *models.Asset) {
	t.Helper()
	owned := map[string]bool{}
	for _, column := range models.StateColumns(asset.LocationType) {
		owned[column] = true
	}
	snapshot := asset.SnapshotStateFields()
	for _, column := range models.AllStateColumns() {
		if owned[column] {
			continue
		}
		if snapshot[column] != "" {
			t.Errorf("%s (%s): foreign column %s = %q", asset.AssetCode, asset.LocationType, column, snapshot[column])
		}
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("rental-test-redis-%d", time.Now().UnixNano())
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
	name := fmt.Sprintf("rental-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=rental_test",
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

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
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

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
