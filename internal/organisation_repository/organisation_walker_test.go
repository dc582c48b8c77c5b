package organisation_repository

import (
	"context"
	"testing"
	"time"

	"github.com/identity-sync/saas-connector/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newWalkerTestDatabase(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	database, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Unable to create sqlmock: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: database}), &gorm.Config{})
	if err != nil {
		t.Fatalf("Unable to open gorm connection: %v", err)
	}

	return gormDB, mock
}

func walkerColumns() []string {
	return []string{"id", "vendor", "install_id", "region", "attributes"}
}

func TestWalkVisitsEveryOrganisation(t *testing.T) {
	gormDB, mock := newWalkerTestDatabase(t)

	mock.ExpectQuery(`SELECT .+ FROM "organisations" WHERE id >`).
		WillReturnRows(sqlmock.NewRows(walkerColumns()).
			AddRow("org-1", "gitlab", "install-1", nil, nil).
			AddRow("org-2", "hubspot", "install-2", "eu", `{"portal_id":"77"}`))

	mock.ExpectQuery(`SELECT .+ FROM "organisations" WHERE id >`).
		WillReturnRows(sqlmock.NewRows(walkerColumns()).
			AddRow("org-3", "monday", "install-3", nil, nil))

	var visited []domain.OrganisationID

	err := ProcessAllOrganisations(context.TODO(), gormDB, 2*time.Second, 2, func(ctx context.Context, org domain.Organisation) error {
		visited = append(visited, org.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("Expected the walk to succeed: %v", err)
	}

	expected := []domain.OrganisationID{"org-1", "org-2", "org-3"}
	if !cmp.Equal(expected, visited) {
		t.Fatalf("Visited organisations mismatch: %s", cmp.Diff(expected, visited))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("Unmet sqlmock expectations: %v", err)
	}
}

func TestWalkContinuesPastUnscannableRow(t *testing.T) {
	gormDB, mock := newWalkerTestDatabase(t)

	// The second row of the first chunk has a NULL id and fails to scan.
	// The walk must still treat the chunk as full and fetch the next one.
	mock.ExpectQuery(`SELECT .+ FROM "organisations" WHERE id >`).
		WillReturnRows(sqlmock.NewRows(walkerColumns()).
			AddRow("org-1", "gitlab", "install-1", nil, nil).
			AddRow(nil, "hubspot", "install-2", nil, nil))

	mock.ExpectQuery(`SELECT .+ FROM "organisations" WHERE id >`).
		WillReturnRows(sqlmock.NewRows(walkerColumns()).
			AddRow("org-3", "monday", "install-3", nil, nil))

	var visited []domain.OrganisationID

	err := ProcessAllOrganisations(context.TODO(), gormDB, 2*time.Second, 2, func(ctx context.Context, org domain.Organisation) error {
		visited = append(visited, org.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("Expected the walk to succeed: %v", err)
	}

	expected := []domain.OrganisationID{"org-1", "org-3"}
	if !cmp.Equal(expected, visited) {
		t.Fatalf("Visited organisations mismatch: %s", cmp.Diff(expected, visited))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("Unmet sqlmock expectations: %v", err)
	}
}

func TestWalkAbortsWhenAFullChunkMakesNoProgress(t *testing.T) {
	gormDB, mock := newWalkerTestDatabase(t)

	mock.ExpectQuery(`SELECT .+ FROM "organisations" WHERE id >`).
		WillReturnRows(sqlmock.NewRows(walkerColumns()).
			AddRow(nil, "gitlab", "install-1", nil, nil).
			AddRow(nil, "hubspot", "install-2", nil, nil))

	err := ProcessAllOrganisations(context.TODO(), gormDB, 2*time.Second, 2, func(ctx context.Context, org domain.Organisation) error {
		return nil
	})
	if err == nil {
		t.Fatalf("Expected the walk to abort instead of looping")
	}
}
