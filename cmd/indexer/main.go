// Command indexer builds the retrieval artifacts from a directory of policy
// documents: it loads every SOP into the policy database, embeds each
// document and writes the vector index. With -qdrant set it also upserts the
// vectors into a Qdrant collection. Optionally seeds the demo patient
// cohort.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sort"

	"github.com/MedGateAI/medgate-engine/engine/embed"
	"github.com/MedGateAI/medgate-engine/engine/patients"
	"github.com/MedGateAI/medgate-engine/engine/policy"
	"github.com/MedGateAI/medgate-engine/engine/semantic"
	"github.com/MedGateAI/medgate-engine/pkg/fn"
)

func main() {
	var (
		policyDir    = flag.String("policies", "data/sops", "directory of policy .txt documents")
		policyDB     = flag.String("policy-db", "data/policies.db", "policy database path")
		patientDB    = flag.String("patient-db", "data/patients.db", "patient database path")
		modelPath    = flag.String("model", "data/model/embedder.json", "embedding model spec path")
		indexPath    = flag.String("index", "data/index/policies.json", "vector index output path")
		dims         = flag.Int("dims", 256, "embedding dimensionality for a newly created model")
		seed         = flag.Uint64("seed", 1, "hash seed for a newly created model")
		workers      = flag.Int("workers", 4, "concurrent embedding workers")
		qdrantAddr   = flag.String("qdrant", "", "Qdrant gRPC address (optional)")
		collection   = flag.String("collection", "policies", "Qdrant collection name")
		seedPatients = flag.Bool("seed-patients", false, "seed the demo patient cohort")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, buildOpts{
		policyDir:    *policyDir,
		policyDB:     *policyDB,
		patientDB:    *patientDB,
		modelPath:    *modelPath,
		indexPath:    *indexPath,
		dims:         *dims,
		seed:         *seed,
		workers:      *workers,
		qdrantAddr:   *qdrantAddr,
		collection:   *collection,
		seedPatients: *seedPatients,
	}, log); err != nil {
		log.Error("index build failed", "error", err)
		os.Exit(1)
	}
}

type buildOpts struct {
	policyDir    string
	policyDB     string
	patientDB    string
	modelPath    string
	indexPath    string
	dims         int
	seed         uint64
	workers      int
	qdrantAddr   string
	collection   string
	seedPatients bool
}

func run(ctx context.Context, opts buildOpts, log *slog.Logger) error {
	// Load or create the embedding model. Reusing an existing spec keeps
	// new index builds compatible with vectors already served.
	var model *embed.Model
	if _, err := os.Stat(opts.modelPath); err == nil {
		model, err = embed.Load(opts.modelPath)
		if err != nil {
			return err
		}
		log.Info("loaded embedding model", "path", opts.modelPath, "dims", model.Dims())
	} else {
		model, err = embed.New(embed.Spec{Name: "feature-hash-v1", Dims: opts.dims, Seed: opts.seed})
		if err != nil {
			return err
		}
		if err := model.Save(opts.modelPath); err != nil {
			return err
		}
		log.Info("created embedding model", "path", opts.modelPath, "dims", opts.dims)
	}

	// Load the SOP corpus into the policy database.
	docs, err := policy.LoadDir(opts.policyDir)
	if err != nil {
		return err
	}
	store, err := policy.OpenSQL(opts.policyDB)
	if err != nil {
		return err
	}
	defer store.Close()

	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := store.Put(ctx, id, docs[id]); err != nil {
			return err
		}
	}
	log.Info("policy corpus stored", "docs", len(ids), "db", opts.policyDB)

	// Embed every document.
	results := fn.ParMapResult(ids, opts.workers, func(id string) fn.Result[[]float32] {
		return fn.FromPair(model.Embed(ctx, docs[id]))
	})
	vectors, err := fn.Collect(results).Unwrap()
	if err != nil {
		return err
	}

	// Build and persist the flat index.
	index := semantic.NewFlat(model.Dims())
	if err := index.Build(vectors, ids); err != nil {
		return err
	}
	if err := index.Persist(opts.indexPath); err != nil {
		return err
	}
	log.Info("vector index written", "path", opts.indexPath, "docs", index.Len(), "dims", index.Dims())

	// Optionally mirror into Qdrant.
	if opts.qdrantAddr != "" {
		vs, err := semantic.NewVectorStore(opts.qdrantAddr, opts.collection)
		if err != nil {
			return err
		}
		defer vs.Close()

		if err := vs.EnsureCollection(ctx, model.Dims()); err != nil {
			return err
		}
		records := make([]semantic.VectorRecord, len(ids))
		for i, id := range ids {
			records[i] = semantic.VectorRecord{DocID: id, Embedding: vectors[i]}
		}
		if err := vs.Upsert(ctx, records); err != nil {
			return err
		}
		log.Info("vectors upserted to qdrant", "collection", opts.collection, "count", len(records))
	}

	if opts.seedPatients {
		reg, err := patients.OpenSQL(opts.patientDB)
		if err != nil {
			return err
		}
		defer reg.Close()
		if err := reg.Seed(ctx); err != nil {
			return err
		}
		log.Info("demo patients seeded", "db", opts.patientDB)
	}

	return nil
}
