package testfixtures

import (
	"context"
	"testing"
	"time"

	"github.com/example/desk-scheduler/internal/application"
	"github.com/example/desk-scheduler/internal/persistence"
)

func TestServiceFactoryNewMemoryServices(t *testing.T) {
	factory := NewServiceFactory()
	svc := factory.NewMemoryServices()
	ctx := context.Background()

	desk, err := svc.DeskService.CreateDesk(ctx, application.CreateDeskParams{Name: "Window", Number: "W-1"})
	if err != nil {
		t.Fatalf("CreateDesk returned error: %v", err)
	}
	if desk.ID != "id-1" {
		t.Fatalf("expected generated ID id-1, got %q", desk.ID)
	}
	if !desk.CreatedAt.Equal(factory.Clock.Now()) {
		t.Fatalf("expected timestamp %v, got %v", factory.Clock.Now(), desk.CreatedAt)
	}

	start := factory.Clock.At(10, 0)
	result, err := svc.ReservationService.CreateReservation(ctx, application.CreateReservationParams{
		UserID: "user-1",
		DeskID: desk.ID,
		Start:  start,
		End:    start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateReservation returned error: %v", err)
	}
	if result.Reservation.ID != "id-2" {
		t.Fatalf("expected generated ID id-2, got %q", result.Reservation.ID)
	}
	if issued := factory.IDGenerator.Issued(); len(issued) != 2 {
		t.Fatalf("expected two issued ids, got %v", issued)
	}

	stored, err := svc.Reservations.GetReservation(ctx, "id-2")
	if err != nil {
		t.Fatalf("GetReservation returned error: %v", err)
	}
	if stored.Status != persistence.ReservationActive {
		t.Fatalf("expected active reservation, got %q", stored.Status)
	}
}

func TestSQLiteHarnessServices(t *testing.T) {
	harness := NewSQLiteHarness(t)
	factory := NewServiceFactory(WithIDGenerator(NewIDGenerator("sql")))
	svc := factory.NewServices(harness.Desks, harness.Reservations)
	ctx := context.Background()

	desk := NewDesk()
	if err := harness.Desks.CreateDesk(ctx, desk); err != nil {
		t.Fatalf("CreateDesk returned error: %v", err)
	}

	start := ReferenceTime().Add(2 * time.Hour)
	params := application.CreateReservationParams{
		UserID: "user-1",
		DeskID: desk.ID,
		Start:  start,
		End:    start.Add(time.Hour),
	}
	if _, err := svc.ReservationService.CreateReservation(ctx, params); err != nil {
		t.Fatalf("CreateReservation returned error: %v", err)
	}

	params.UserID = "user-2"
	params.Start = start.Add(30 * time.Minute)
	params.End = start.Add(90 * time.Minute)
	if _, err := svc.ReservationService.CreateReservation(ctx, params); err == nil {
		t.Fatal("expected overlapping reservation to be rejected")
	}
}

func TestFixtureBuilders(t *testing.T) {
	desk := NewDesk(WithDeskID("desk-x"), WithDeskType(persistence.DeskStanding), WithDeskStatus(persistence.DeskMaintenance))
	if desk.ID != "desk-x" || desk.Type != persistence.DeskStanding || desk.Status != persistence.DeskMaintenance {
		t.Fatalf("unexpected desk fixture: %+v", desk)
	}

	start := ReferenceTime().Add(3 * time.Hour)
	res := NewReservation(desk.ID,
		WithReservationWindow(start, start.Add(time.Hour)),
		WithReservationCheckIn(start),
		WithReservationParent("parent-1"),
	)
	if res.DeskID != "desk-x" || res.CheckInAt == nil || res.ParentID == nil || *res.ParentID != "parent-1" {
		t.Fatalf("unexpected reservation fixture: %+v", res)
	}
	if iv := ReservationInterval(res); iv.End.Sub(iv.Start) != time.Hour {
		t.Fatalf("expected one hour interval, got %v", iv)
	}
}
