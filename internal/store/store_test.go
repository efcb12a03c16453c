package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pactumai/pactum/internal/insight"
)

// getTestDB returns a migrated database pool for testing.
// Skips the test if DATABASE_URL is not set.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}
	if err := New(db).Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

// createTestUser inserts a throwaway user and removes it when the test ends.
func createTestUser(t *testing.T, db *pgxpool.Pool) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(context.Background(), `
		INSERT INTO users (id, name, email) VALUES ($1, $2, $3)
	`, id, "Test User", id+"@example.com")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, id)
	})
	return id
}

func TestPageNormalize(t *testing.T) {
	tests := []struct {
		name       string
		in         Page
		wantLimit  int
		wantOffset int
	}{
		{"zero value", Page{}, DefaultPageSize, 0},
		{"second page", Page{Page: 2, PageSize: 10}, 10, 10},
		{"negative page", Page{Page: -3, PageSize: 5}, 5, 0},
		{"too large", Page{Page: 3, PageSize: 1000}, MaxPageSize, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := tt.in.limitOffset()
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Errorf("limitOffset() = (%d, %d), want (%d, %d)", limit, offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestPageTotalPages(t *testing.T) {
	tests := []struct {
		total, size, want int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{250, 0, 25},
	}
	for _, tt := range tests {
		if got := (Page{PageSize: tt.size}).TotalPages(tt.total); got != tt.want {
			t.Errorf("TotalPages(%d) with size %d = %d, want %d", tt.total, tt.size, got, tt.want)
		}
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0", true},
		{"1500", true},
		{"1500.5", true},
		{"1500.50", true},
		{"1500.505", false},
		{"-5", false},
		{"1,000", false},
		{".5", false},
		{"", false},
		{"abc", false},
	}
	for _, tt := range tests {
		if got := ValidAmount(tt.in); got != tt.want {
			t.Errorf("ValidAmount(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidEnums(t *testing.T) {
	for _, r := range []string{"low", "medium", "high"} {
		if !ValidRiskTolerance(r) {
			t.Errorf("ValidRiskTolerance(%q) = false", r)
		}
	}
	if ValidRiskTolerance("extreme") {
		t.Error("ValidRiskTolerance(extreme) = true")
	}
	for _, s := range []string{MeetingUpcoming, MeetingActive, MeetingCompleted, MeetingProcessing, MeetingCancelled} {
		if !ValidMeetingStatus(s) {
			t.Errorf("ValidMeetingStatus(%q) = false", s)
		}
	}
	if ValidMeetingStatus("upcomming") {
		t.Error("ValidMeetingStatus(upcomming) = true")
	}
	for _, s := range []string{GoalPending, GoalInProgress, GoalCompleted} {
		if !ValidGoalStatus(s) {
			t.Errorf("ValidGoalStatus(%q) = false", s)
		}
	}
	if ValidGoalStatus("done") {
		t.Error("ValidGoalStatus(done) = true")
	}
}

func TestFormatConfidence(t *testing.T) {
	tests := []struct {
		in      float64
		want    string
		wantErr bool
	}{
		{0, "0.0000", false},
		{1, "1.0000", false},
		{2.0 / 9.0, "0.2222", false},
		{0.5, "0.5000", false},
		{1.5, "", true},
		{-0.1, "", true},
	}
	for _, tt := range tests {
		got, err := FormatConfidence(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrConfidenceOutOfRange) {
				t.Errorf("FormatConfidence(%v) error = %v, want ErrConfidenceOutOfRange", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("FormatConfidence(%v) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestNewInsightRecordRejectsOverflow(t *testing.T) {
	res := insight.Extract("budget/expenses loan")
	if res.Confidence <= 1 {
		t.Fatalf("precondition: confidence = %v, want > 1", res.Confidence)
	}
	_, err := NewInsightRecord("u", "m", res, insight.Checksum("budget/expenses loan"))
	if !errors.Is(err, ErrConfidenceOutOfRange) {
		t.Fatalf("NewInsightRecord() error = %v, want ErrConfidenceOutOfRange", err)
	}
}

func TestNewInsightRecord(t *testing.T) {
	tr := "Let's talk about my retirement and my monthly budget"
	rec, err := NewInsightRecord("u1", "m1", insight.Extract(tr), insight.Checksum(tr))
	if err != nil {
		t.Fatalf("NewInsightRecord() error = %v", err)
	}
	if rec.Confidence != "0.2222" || rec.Source != insight.Source || rec.MeetingID != "m1" || rec.UserID != "u1" {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.Checksum) != insight.ChecksumLength {
		t.Errorf("checksum length = %d", len(rec.Checksum))
	}
}

func TestFinancialInsightJSON(t *testing.T) {
	rec := FinancialInsight{
		ID:     "i1",
		Topics: []string{"budget", "retirement"},
		Hits: insight.Hits{
			{Topic: "budget", Keywords: []string{"budget"}},
			{Topic: "retirement", Keywords: []string{"retire"}},
		},
		Confidence: "0.2222",
		Source:     insight.Source,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back FinancialInsight
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if kws, ok := back.Hits.Get("retirement"); !ok || kws[0] != "retire" {
		t.Errorf("hits after round trip = %+v", back.Hits)
	}
	if back.AttestationUID != nil {
		t.Errorf("attestation uid = %v, want nil", back.AttestationUID)
	}
}

func TestMeetingLifecycle(t *testing.T) {
	db := getTestDB(t)
	s := New(db)
	ctx := context.Background()
	userID := createTestUser(t, db)
	otherID := createTestUser(t, db)

	agent, err := s.CreateAgent(ctx, userID, "Advisor", "Help with budgeting")
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	if _, err := s.CreateMeeting(ctx, otherID, "Not mine", agent.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CreateMeeting with foreign agent = %v, want ErrNotFound", err)
	}

	m, err := s.CreateMeeting(ctx, userID, "Monthly review", agent.ID)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}
	if m.Status != MeetingUpcoming || m.AgentName != "Advisor" {
		t.Errorf("new meeting = %+v", m)
	}

	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)
	if err := s.MarkMeetingActive(ctx, m.ID, started); err != nil {
		t.Fatalf("MarkMeetingActive failed: %v", err)
	}
	if err := s.CompleteMeeting(ctx, m.ID, time.Now(), "You: hello"); err != nil {
		t.Fatalf("CompleteMeeting failed: %v", err)
	}

	got, err := s.GetMeeting(ctx, userID, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if got.Status != MeetingCompleted || got.Summary == nil || *got.Summary != "You: hello" {
		t.Errorf("completed meeting = %+v", got)
	}
	if got.DurationSeconds == nil || *got.DurationSeconds <= 0 {
		t.Errorf("duration = %v, want > 0", got.DurationSeconds)
	}

	if _, err := s.GetMeeting(ctx, otherID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMeeting by other user = %v, want ErrNotFound", err)
	}

	list, total, err := s.ListMeetings(ctx, userID, MeetingFilter{Search: "monthly", Status: MeetingCompleted})
	if err != nil {
		t.Fatalf("ListMeetings failed: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ID != m.ID {
		t.Errorf("ListMeetings = %d rows, total %d", len(list), total)
	}

	name := "Renamed"
	updated, err := s.UpdateMeeting(ctx, userID, m.ID, MeetingUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateMeeting failed: %v", err)
	}
	if updated.Name != "Renamed" || updated.Status != MeetingCompleted {
		t.Errorf("updated meeting = %+v", updated)
	}

	if err := s.DeleteMeeting(ctx, userID, m.ID); err != nil {
		t.Fatalf("DeleteMeeting failed: %v", err)
	}
	if err := s.DeleteMeeting(ctx, userID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteMeeting = %v, want ErrNotFound", err)
	}
}

func TestInsightHistoryAndAttestation(t *testing.T) {
	db := getTestDB(t)
	s := New(db)
	ctx := context.Background()
	userID := createTestUser(t, db)

	agent, err := s.CreateAgent(ctx, userID, "Advisor", "")
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	m, err := s.CreateMeeting(ctx, userID, "Planning", agent.ID)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}

	tr := "Let's talk about my retirement and my monthly budget"
	rec, err := NewInsightRecord(userID, m.ID, insight.Extract(tr), insight.Checksum(tr))
	if err != nil {
		t.Fatalf("NewInsightRecord failed: %v", err)
	}
	first, err := s.InsertInsight(ctx, rec)
	if err != nil {
		t.Fatalf("InsertInsight failed: %v", err)
	}
	second, err := s.InsertInsight(ctx, rec)
	if err != nil {
		t.Fatalf("second InsertInsight failed: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("re-running extraction should append a new record")
	}

	// jsonb reorders keys; hits must come back in taxonomy order.
	if second.Hits[0].Topic != "budget" || second.Hits[1].Topic != "retirement" {
		t.Errorf("hits order = %+v", second.Hits)
	}

	history, err := s.ListInsights(ctx, userID, m.ID)
	if err != nil {
		t.Fatalf("ListInsights failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}

	if err := s.SetInsightAttestation(ctx, second.ID, "0xabc"); err != nil {
		t.Fatalf("SetInsightAttestation failed: %v", err)
	}
	if _, err := s.InsertAttestation(ctx, Attestation{
		UID:                "0xabc",
		MeetingID:          m.ID,
		FinancialInsightID: second.ID,
		Recipient:          "0x0000000000000000000000000000000000000000",
		Revocable:          true,
	}); err != nil {
		t.Fatalf("InsertAttestation failed: %v", err)
	}

	latest, err := s.GetLatestInsight(ctx, userID, m.ID)
	if err != nil {
		t.Fatalf("GetLatestInsight failed: %v", err)
	}
	if latest.AttestationUID == nil || *latest.AttestationUID != "0xabc" {
		t.Errorf("latest attestation uid = %v", latest.AttestationUID)
	}

	bad := rec
	bad.Confidence = "1.5"
	if _, err := s.InsertInsight(ctx, bad); !errors.Is(err, ErrConfidenceOutOfRange) {
		t.Errorf("InsertInsight with 1.5 = %v, want ErrConfidenceOutOfRange", err)
	}
}

func TestFinancialProfileAndGoals(t *testing.T) {
	db := getTestDB(t)
	s := New(db)
	ctx := context.Background()
	userID := createTestUser(t, db)

	if _, err := s.GetFinancialProfile(ctx, userID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetFinancialProfile before upsert = %v, want ErrNotFound", err)
	}
	if _, err := s.UpsertFinancialProfile(ctx, userID, "medium", "1500.505"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("UpsertFinancialProfile with bad amount = %v", err)
	}
	p, err := s.UpsertFinancialProfile(ctx, userID, "medium", "1500.50")
	if err != nil {
		t.Fatalf("UpsertFinancialProfile failed: %v", err)
	}
	if p.MonthlyBudget != "1500.50" {
		t.Errorf("monthly budget = %q", p.MonthlyBudget)
	}
	p2, err := s.UpsertFinancialProfile(ctx, userID, "high", "2000")
	if err != nil {
		t.Fatalf("second UpsertFinancialProfile failed: %v", err)
	}
	if p2.ID != p.ID || p2.RiskTolerance != "high" {
		t.Errorf("upsert should update in place: %+v", p2)
	}

	g, err := s.CreateGoal(ctx, FinancialGoal{UserID: userID, Title: "Emergency fund", TargetAmount: "5000"})
	if err != nil {
		t.Fatalf("CreateGoal failed: %v", err)
	}
	if g.CurrentAmount != "0.00" || g.Status != GoalPending {
		t.Errorf("new goal = %+v", g)
	}

	status := GoalInProgress
	current := "1200.25"
	g, err = s.UpdateGoal(ctx, userID, g.ID, GoalUpdate{Status: &status, CurrentAmount: &current})
	if err != nil {
		t.Fatalf("UpdateGoal failed: %v", err)
	}
	if g.Status != GoalInProgress || g.CurrentAmount != "1200.25" {
		t.Errorf("updated goal = %+v", g)
	}

	goals, err := s.ListGoals(ctx, userID)
	if err != nil || len(goals) != 1 {
		t.Fatalf("ListGoals = %d, %v", len(goals), err)
	}
	if err := s.DeleteGoal(ctx, userID, g.ID); err != nil {
		t.Fatalf("DeleteGoal failed: %v", err)
	}
}

func TestKnowledgeReplaceAndSearch(t *testing.T) {
	db := getTestDB(t)
	s := New(db)
	ctx := context.Background()
	userID := createTestUser(t, db)

	agent, err := s.CreateAgent(ctx, userID, "Advisor", "")
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if _, err := s.ReplaceKnowledge(ctx, agent.ID, []string{"old content about pensions"}); err != nil {
		t.Fatalf("ReplaceKnowledge failed: %v", err)
	}
	n, err := s.ReplaceKnowledge(ctx, agent.ID, []string{
		"Index funds have low fees.",
		"An emergency fund covers three to six months of expenses.",
	})
	if err != nil || n != 2 {
		t.Fatalf("ReplaceKnowledge = %d, %v", n, err)
	}

	chunks, err := s.SearchKnowledge(ctx, agent.ID, "emergency expenses", 4)
	if err != nil {
		t.Fatalf("SearchKnowledge failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Position != 1 {
		t.Fatalf("chunks = %+v", chunks)
	}
	if chunks, _ := s.SearchKnowledge(ctx, agent.ID, "pensions", 4); len(chunks) != 0 {
		t.Errorf("replaced content still searchable: %+v", chunks)
	}
}

func TestSessionOperations(t *testing.T) {
	db := getTestDB(t)
	s := New(db)
	ctx := context.Background()
	userID := createTestUser(t, db)

	hash := uuid.NewString()
	if err := s.CreateSession(ctx, userID, hash, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if ok, err := s.IsSessionValid(ctx, hash); err != nil || !ok {
		t.Fatalf("IsSessionValid = %v, %v", ok, err)
	}
	if err := s.RevokeSession(ctx, hash); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if ok, _ := s.IsSessionValid(ctx, hash); ok {
		t.Error("revoked session still valid")
	}
}
