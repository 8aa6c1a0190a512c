package clinic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/pillfleet-core/internal/dispatch"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database/dbtest"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/logging"
)

type fakeSyncer struct{ devices []int64 }

func (f *fakeSyncer) SyncDevice(_ context.Context, deviceID int64) (dispatch.Status, error) {
	f.devices = append(f.devices, deviceID)
	return dispatch.StatusSent, nil
}

func setup(t *testing.T) (*Service, *database.DB, *fakeSyncer) {
	t.Helper()
	db := dbtest.Open(t)
	syncer := &fakeSyncer{}
	return NewService(db, syncer, logging.Discard()), db, syncer
}

func ptr[T any](v T) *T { return &v }

func TestDoctorCRUD(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	d, err := svc.CreateDoctor(ctx, Doctor{Name: " Dr. Who ", Email: "Who@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Who", d.Name)
	assert.Equal(t, "who@example.com", d.Email)

	_, err = svc.CreateDoctor(ctx, Doctor{Name: "Other", Email: "who@example.com"})
	assert.ErrorIs(t, err, ErrDoctorExists)

	_, err = svc.CreateDoctor(ctx, Doctor{Name: "Bad", Email: "not-an-email"})
	assert.ErrorIs(t, err, ErrInvalidDoctor)

	_, err = svc.CreateDoctor(ctx, Doctor{Email: "x@example.com"})
	assert.ErrorIs(t, err, ErrInvalidDoctor)

	updated, err := svc.UpdateDoctor(ctx, d.ID, DoctorUpdate{Name: ptr("Dr. Smith")})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Smith", updated.Name)
	assert.Equal(t, "who@example.com", updated.Email)

	list, err := svc.ListDoctors(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.DeleteDoctor(ctx, d.ID))
	_, err = svc.GetDoctor(ctx, d.ID)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	assert.ErrorIs(t, svc.DeleteDoctor(ctx, d.ID), ErrDoctorNotFound)
}

func TestUpdateDoctor_DuplicateEmail(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	a, err := svc.CreateDoctor(ctx, Doctor{Name: "A", Email: "a@example.com"})
	require.NoError(t, err)
	_, err = svc.CreateDoctor(ctx, Doctor{Name: "B", Email: "b@example.com"})
	require.NoError(t, err)

	_, err = svc.UpdateDoctor(ctx, a.ID, DoctorUpdate{Email: ptr("b@example.com")})
	assert.ErrorIs(t, err, ErrDoctorExists)
}

func TestPatientCRUD(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	doc, err := svc.CreateDoctor(ctx, Doctor{Name: "A", Email: "a@example.com"})
	require.NoError(t, err)

	p, err := svc.CreatePatient(ctx, Patient{Name: "Ann", Age: 70, Notes: ptr("allergic to penicillin"), DoctorID: &doc.ID})
	require.NoError(t, err)
	assert.NotZero(t, p.ID)

	_, err = svc.CreatePatient(ctx, Patient{Name: "Bob", Age: 50, DoctorID: ptr(int64(999))})
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	_, err = svc.CreatePatient(ctx, Patient{Name: "", Age: 50})
	assert.ErrorIs(t, err, ErrInvalidPatient)

	_, err = svc.CreatePatient(ctx, Patient{Name: "Old", Age: -1})
	assert.ErrorIs(t, err, ErrInvalidPatient)

	byDoctor, err := svc.ListPatients(ctx, PatientFilter{DoctorID: &doc.ID})
	require.NoError(t, err)
	assert.Len(t, byDoctor, 1)

	updated, err := svc.UpdatePatient(ctx, p.ID, PatientUpdate{Age: ptr(71), Notes: ptr(""), DoctorID: ptr(int64(0))})
	require.NoError(t, err)
	assert.Equal(t, 71, updated.Age)
	assert.Nil(t, updated.Notes)
	assert.Nil(t, updated.DoctorID)

	_, err = svc.UpdatePatient(ctx, p.ID, PatientUpdate{DoctorID: ptr(int64(999))})
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	_, err = svc.UpdatePatient(ctx, 999, PatientUpdate{Age: ptr(1)})
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestDeleteDoctorUnassignsPatients(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	doc, err := svc.CreateDoctor(ctx, Doctor{Name: "A", Email: "a@example.com"})
	require.NoError(t, err)
	p, err := svc.CreatePatient(ctx, Patient{Name: "Ann", Age: 70, DoctorID: &doc.ID})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDoctor(ctx, doc.ID))

	got, err := svc.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DoctorID)
}

func TestDeletePatientReleasesDevice(t *testing.T) {
	svc, db, syncer := setup(t)
	ctx := context.Background()

	p, err := svc.CreatePatient(ctx, Patient{Name: "Ann", Age: 70})
	require.NoError(t, err)
	dev := dbtest.Insert(t, db, `INSERT INTO dispensers (serial_number, patient_id) VALUES ('device1', ?)`, p.ID)

	require.NoError(t, svc.DeletePatient(ctx, p.ID))
	assert.Equal(t, []int64{dev}, syncer.devices)

	var patientID *int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT patient_id FROM dispensers WHERE id = ?`, dev).Scan(&patientID))
	assert.Nil(t, patientID)

	assert.ErrorIs(t, svc.DeletePatient(ctx, p.ID), ErrPatientNotFound)
}

func TestDeletePatientWithoutDevice(t *testing.T) {
	svc, _, syncer := setup(t)
	ctx := context.Background()

	p, err := svc.CreatePatient(ctx, Patient{Name: "Ann", Age: 70})
	require.NoError(t, err)
	require.NoError(t, svc.DeletePatient(ctx, p.ID))
	assert.Empty(t, syncer.devices)
}
