package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func parcels() Entry {
	return Entry{
		Name:    "County Parcels",
		Type:    TypeFeature,
		URL:     "https://host/arcgis/rest/services/Parcels/FeatureServer/0",
		Visible: true,
		Where:   "ACRES > 5",
	}
}

func TestCreateGetListDelete(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	created, err := c.Create(parcels())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != "county_parcels" {
		t.Errorf("ID = %q; want county_parcels", created.ID)
	}
	if _, err := c.Create(parcels()); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Create err = %v; want ErrExists", err)
	}

	got, ok := c.Get("county_parcels")
	if !ok || got.Where != "ACRES > 5" {
		t.Errorf("Get = %+v, %v", got, ok)
	}
	if n := len(c.List()); n != 1 {
		t.Errorf("List len = %d", n)
	}

	if err := c.Delete("county_parcels"); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete("county_parcels"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v; want ErrNotFound", err)
	}
}

func TestCreateFallsBackToUUID(t *testing.T) {
	c, _ := Open(t.TempDir())
	e := parcels()
	e.Name = "???"
	created, err := c.Create(e)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uuid.Parse(created.ID); err != nil {
		t.Errorf("ID %q is not a uuid: %v", created.ID, err)
	}
}

func TestUpdate(t *testing.T) {
	c, _ := Open(t.TempDir())
	created, _ := c.Create(parcels())

	e := parcels()
	e.Where = "ACRES > 10"
	e.ID = "ignored"
	updated, err := c.Update(created.ID, e)
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID != created.ID || updated.Where != "ACRES > 10" {
		t.Errorf("Update = %+v", updated)
	}
	if _, err := c.Update("missing", e); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) err = %v", err)
	}
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	c, _ := Open(dir)
	created, _ := c.Create(parcels())
	dyn := Entry{Name: "Census", Type: TypeDynamic, URL: "https://host/MapServer", Layers: []int{0, 3}, LayerDefs: map[string]string{"3": "POP > 1"}}
	if _, err := c.Create(dyn); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Fatalf("catalog file not written: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Len() != 2 {
		t.Fatalf("reopened Len = %d; want 2", reopened.Len())
	}
	got, _ := reopened.Get(created.ID)
	if got.Where != "ACRES > 5" || got.Type != TypeFeature {
		t.Errorf("reloaded entry = %+v", got)
	}
	census, _ := reopened.Get("census")
	if len(census.Layers) != 2 || census.LayerDefs["3"] != "POP > 1" {
		t.Errorf("reloaded census = %+v", census)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, FileName), []byte("{not: [yaml"), 0o644)
	if _, err := Open(dir); err == nil {
		t.Error("Open should fail on an unparsable catalog")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(e *Entry)
		ok     bool
	}{
		{"valid", func(e *Entry) {}, true},
		{"blank name", func(e *Entry) { e.Name = " " }, false},
		{"unknown type", func(e *Entry) { e.Type = "wms" }, false},
		{"relative url", func(e *Entry) { e.URL = "/arcgis/rest/services" }, false},
		{"ftp url", func(e *Entry) { e.URL = "ftp://host/MapServer" }, false},
		{"opacity", func(e *Entry) { e.Opacity = 1.5 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := parcels()
			tt.modify(&e)
			err := Validate(e)
			if (err == nil) != tt.ok {
				t.Errorf("Validate err = %v; want ok=%v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("err %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestEventsPublished(t *testing.T) {
	c, _ := Open(t.TempDir())
	ch := c.Bus().Subscribe()
	defer c.Bus().Unsubscribe(ch)

	created, _ := c.Create(parcels())
	c.Update(created.ID, parcels())
	c.Delete(created.ID)

	for _, want := range []string{"created", "updated", "deleted"} {
		ev := <-ch
		if ev.Action != want || ev.ID != created.ID {
			t.Errorf("event = %+v; want %s %s", ev, want, created.ID)
		}
	}
}

func TestSeed(t *testing.T) {
	c, _ := Open(t.TempDir())
	c.Create(parcels())
	n, err := c.Seed([]Entry{
		parcels(),
		{Name: "Imagery", Type: TypeTiled, URL: "https://host/World_Imagery/MapServer"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || c.Len() != 2 {
		t.Errorf("Seed added %d, Len %d; want 1 and 2", n, c.Len())
	}
}
