package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// collectionsTable 记录集合维度和距离的注册表
const collectionsTable = "agni_collections"

// pgxPool pgxpool.Pool的最小子集，测试中用pgxmock替换
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PGVectorStore 基于PostgreSQL + pgvector的向量库实现
// 每个集合对应一张表，集合的维度和距离记录在注册表中
type PGVectorStore struct {
	pool pgxPool
}

// NewPGVectorStore 连接数据库并初始化注册表
func NewPGVectorStore(config Config) (Store, error) {
	if config.DSN == "" {
		return nil, errors.New("pgvector dsn is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}

	store, err := newPGVectorStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func newPGVectorStore(ctx context.Context, pool pgxPool) (*PGVectorStore, error) {
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, fmt.Errorf("pgvector: enable extension: %w", err)
	}
	createRegistry := `CREATE TABLE IF NOT EXISTS ` + collectionsTable + ` (
		name TEXT PRIMARY KEY,
		dimension INT NOT NULL,
		distance TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := pool.Exec(ctx, createRegistry); err != nil {
		return nil, fmt.Errorf("pgvector: create registry: %w", err)
	}
	return &PGVectorStore{pool: pool}, nil
}

// CollectionExists 检查集合是否存在
func (p *PGVectorStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM "+collectionsTable+" WHERE name = $1)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pgvector: check collection: %w", err)
	}
	return exists, nil
}

// CreateCollection 在同一事务中登记集合并建表
// 注册表主键冲突说明其他请求已创建，返回ErrCollectionExists
func (p *PGVectorStore) CreateCollection(ctx context.Context, name string, dimension int, distance DistanceType) (err error) {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidDimension)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx,
		"INSERT INTO "+collectionsTable+" (name, dimension, distance) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING",
		name, dimension, string(distance))
	if err != nil {
		return fmt.Errorf("pgvector: register collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCollectionExists
	}

	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id UUID PRIMARY KEY,
		embedding vector(%d) NOT NULL,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, pgx.Identifier{name}.Sanitize(), dimension)
	if _, err = tx.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgvector: commit: %w", err)
	}
	return nil
}

// collectionInfo 读取集合的维度和距离
func (p *PGVectorStore) collectionInfo(ctx context.Context, name string) (int, DistanceType, error) {
	var (
		dimension int
		distance  string
	)
	err := p.pool.QueryRow(ctx,
		"SELECT dimension, distance FROM "+collectionsTable+" WHERE name = $1", name).Scan(&dimension, &distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return 0, "", fmt.Errorf("pgvector: read collection: %w", err)
	}
	return dimension, DistanceType(distance), nil
}

// Upsert 在事务中逐条写入，ID冲突时覆盖向量和元数据
func (p *PGVectorStore) Upsert(ctx context.Context, collection string, points []Point) (err error) {
	if len(points) == 0 {
		return nil
	}

	dimension, _, err := p.collectionInfo(ctx, collection)
	if err != nil {
		return err
	}
	for _, pt := range points {
		if err := ValidateVector(pt.Vector, dimension); err != nil {
			return fmt.Errorf("point %s: %w", pt.ID, err)
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	stmt := fmt.Sprintf(`INSERT INTO %s (id, embedding, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload, updated_at = now()`,
		pgx.Identifier{collection}.Sanitize())

	for _, pt := range points {
		payload, marshalErr := json.Marshal(pt.Payload)
		if marshalErr != nil {
			return fmt.Errorf("pgvector: marshal payload for %s: %w", pt.ID, marshalErr)
		}
		if _, err = tx.Exec(ctx, stmt, pt.ID, pgvector.NewVector(pt.Vector), payload); err != nil {
			return fmt.Errorf("pgvector: upsert %s: %w", pt.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgvector: commit: %w", err)
	}
	return nil
}

// distanceOperator 返回pgvector的距离运算符
// <#>返回负内积，取反后即为相似度
func distanceOperator(d DistanceType) string {
	switch d {
	case DotProduct:
		return "<#>"
	case Euclidean:
		return "<->"
	default:
		return "<=>"
	}
}

func pgScore(distance float64, d DistanceType) float32 {
	if d == DotProduct {
		return float32(-distance)
	}
	return DistanceToScore(float32(distance), d)
}

// Search 相似度搜索
func (p *PGVectorStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]SearchResult, error) {
	dimension, distance, err := p.collectionInfo(ctx, collection)
	if err != nil {
		return nil, err
	}
	if err := ValidateVector(vector, dimension); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	query := fmt.Sprintf(`SELECT id::text, payload, embedding %s $1 AS distance FROM %s ORDER BY distance LIMIT $2`,
		distanceOperator(distance), pgx.Identifier{collection}.Sanitize())
	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			id      string
			payload []byte
			dist    float64
		)
		if err := rows.Scan(&id, &payload, &dist); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		var meta map[string]any
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &meta); err != nil {
				return nil, fmt.Errorf("pgvector: decode payload: %w", err)
			}
		}
		results = append(results, SearchResult{ID: id, Score: pgScore(dist, distance), Payload: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}
	return results, nil
}

// Count 返回集合中的记录数
func (p *PGVectorStore) Count(ctx context.Context, collection string) (int, error) {
	if _, _, err := p.collectionInfo(ctx, collection); err != nil {
		return 0, err
	}
	var n int
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM "+pgx.Identifier{collection}.Sanitize()).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvector: count: %w", err)
	}
	return n, nil
}

// Close 关闭连接池
func (p *PGVectorStore) Close() error {
	p.pool.Close()
	return nil
}

func init() {
	RegisterStore("pgvector", NewPGVectorStore)
}
