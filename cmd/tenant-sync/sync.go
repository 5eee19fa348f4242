package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/building"
	"github.com/primal-host/consorcio/internal/tenancy"
)

type buildingStore interface {
	Get(ctx context.Context, id string) (*building.Building, error)
	List(ctx context.Context, adminID string) ([]building.Building, error)
	SetProvisioningStatus(ctx context.Context, id, status string) error
}

type prober interface {
	MissingTable(ctx context.Context, schema string, sets ...tenancy.TableSet) (string, error)
}

type provisioner interface {
	Provision(ctx context.Context, tenantID, schema string, sets ...tenancy.TableSet) error
}

// Syncer repairs building schemas with missing tables.
type Syncer struct {
	buildings buildingStore
	prober    prober
	prov      provisioner
	dryRun    bool
	only      string
	log       *zap.Logger
	stats     Stats
}

// Stats tracks sync progress.
type Stats struct {
	Checked  int
	Healthy  int
	Missing  int
	Repaired int
	Failed   int
}

func (st Stats) print(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Tenant Sync Summary ===")
	fmt.Fprintf(w, "Buildings checked: %d\n", st.Checked)
	fmt.Fprintf(w, "Healthy:           %d\n", st.Healthy)
	fmt.Fprintf(w, "Missing tables:    %d\n", st.Missing)
	fmt.Fprintf(w, "Repaired:          %d\n", st.Repaired)
	fmt.Fprintf(w, "Failed:            %d\n", st.Failed)
}

// Run checks each building in turn. A failure on one building is counted
// and logged; the rest are still processed.
func (s *Syncer) Run(ctx context.Context) error {
	var list []building.Building
	if s.only != "" {
		b, err := s.buildings.Get(ctx, s.only)
		if err != nil {
			return err
		}
		list = []building.Building{*b}
	} else {
		var err error
		if list, err = s.buildings.List(ctx, ""); err != nil {
			return fmt.Errorf("list buildings: %w", err)
		}
	}

	s.log.Info("tenant sync starting", zap.Int("buildings", len(list)), zap.Bool("dry_run", s.dryRun))

	for i := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.sync(ctx, &list[i])
	}
	return nil
}

func (s *Syncer) sync(ctx context.Context, b *building.Building) {
	s.stats.Checked++
	log := s.log.With(zap.String("building", b.ID), zap.String("schema", b.Schema))

	missing, err := s.prober.MissingTable(ctx, b.Schema, tenancy.DefaultSets...)
	if err != nil {
		log.Error("probe failed", zap.Error(err))
		s.stats.Failed++
		return
	}
	if missing == "" {
		s.stats.Healthy++
		if b.ProvisioningStatus != building.StatusReady && !s.dryRun {
			s.setStatus(ctx, log, b.ID, building.StatusReady)
		}
		return
	}

	s.stats.Missing++
	log.Warn("table missing", zap.String("table", missing))
	if s.dryRun {
		return
	}

	if err := s.prov.Provision(ctx, b.ID, b.Schema); err != nil {
		log.Error("provisioning failed", zap.Error(err))
		s.stats.Failed++
		s.setStatus(ctx, log, b.ID, building.StatusFailed)
		return
	}
	s.stats.Repaired++
	s.setStatus(ctx, log, b.ID, building.StatusReady)
}

func (s *Syncer) setStatus(ctx context.Context, log *zap.Logger, id, status string) {
	if err := s.buildings.SetProvisioningStatus(ctx, id, status); err != nil {
		log.Error("recording provisioning status failed", zap.String("status", status), zap.Error(err))
	}
}
