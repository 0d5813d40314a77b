// Package store persists route segments, metro stations and street connectors
// to PostGIS. Geometries are passed as WKT and converted server-side.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// SRID for every geometry column (WGS 84)
const SRID = 4326

// Schema creates the tables written by the store
const Schema = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS calles (
	id       BIGSERIAL PRIMARY KEY,
	origen   TEXT NOT NULL,
	destino  TEXT NOT NULL,
	geom     geometry(LineString, 4326)
);

CREATE TABLE IF NOT EXISTS metro (
	codigo       TEXT PRIMARY KEY,
	nombre       TEXT NOT NULL,
	estado       TEXT,
	combinacion  TEXT,
	linea        TEXT,
	geom         geometry(Point, 4326)
);

CREATE TABLE IF NOT EXISTS conexiones (
	calle_a  TEXT NOT NULL,
	calle_b  TEXT NOT NULL,
	geom     geometry(LineString, 4326) NOT NULL,
	PRIMARY KEY (calle_a, calle_b)
);
`

const (
	insertCalleSQL = `INSERT INTO calles (origen, destino, geom)
VALUES ($1, $2, ST_GeomFromText($3, 4326))`

	upsertMetroSQL = `INSERT INTO metro (codigo, nombre, estado, combinacion, linea, geom)
VALUES ($1, $2, $3, $4, $5, ST_GeomFromText($6, 4326))
ON CONFLICT (codigo) DO UPDATE
SET nombre = EXCLUDED.nombre,
    estado = EXCLUDED.estado,
    combinacion = EXCLUDED.combinacion,
    linea = EXCLUDED.linea,
    geom = EXCLUDED.geom`

	upsertConnectionSQL = `INSERT INTO conexiones (calle_a, calle_b, geom)
VALUES ($1, $2, ST_GeomFromText($3, 4326))
ON CONFLICT (calle_a, calle_b) DO UPDATE
SET geom = EXCLUDED.geom`
)

// CalleRow is one stop-to-stop segment of a bus route
type CalleRow struct {
	Origen  string
	Destino string
	WKT     string
}

// MetroRow is the latest known state of a subway station
type MetroRow struct {
	Codigo      string
	Nombre      string
	Estado      string
	Combinacion string
	Linea       string
	WKT         string
}

// ConnectionRow is a synthetic connector between two streets
type ConnectionRow struct {
	CalleA string
	CalleB string
	WKT    string
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store writes rows to PostGIS
type Store struct {
	db   *sql.DB
	exec execer
}

// Open connects using the pgx driver. The connection is lazy; call Ping to
// verify it.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db, exec: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates missing tables
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.exec.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) InsertCalle(ctx context.Context, row CalleRow) error {
	if row.Origen == "" || row.Destino == "" {
		return fmt.Errorf("insert calle: origen and destino are required")
	}
	if _, err := s.exec.ExecContext(ctx, insertCalleSQL, row.Origen, row.Destino, row.WKT); err != nil {
		return fmt.Errorf("insert calle %s-%s: %w", row.Origen, row.Destino, err)
	}
	return nil
}

func (s *Store) UpsertMetroStation(ctx context.Context, row MetroRow) error {
	if row.Codigo == "" {
		return fmt.Errorf("upsert metro: codigo is required")
	}
	_, err := s.exec.ExecContext(ctx, upsertMetroSQL,
		row.Codigo, row.Nombre, row.Estado, row.Combinacion, row.Linea, row.WKT)
	if err != nil {
		return fmt.Errorf("upsert metro %s: %w", row.Codigo, err)
	}
	return nil
}

func (s *Store) InsertConnection(ctx context.Context, row ConnectionRow) error {
	if _, err := s.exec.ExecContext(ctx, upsertConnectionSQL, row.CalleA, row.CalleB, row.WKT); err != nil {
		return fmt.Errorf("insert connection %s/%s: %w", row.CalleA, row.CalleB, err)
	}
	return nil
}
