package vector

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kart-io/memory-mcp/internal/memory/errkind"
)

// fieldMemoryKey mirrors search.FieldMemoryKey's value; this package cannot
// import search (search already imports vector), so the string is
// duplicated here rather than shared.
const fieldMemoryKey = "memory_key"

// qdrantNamespace seeds the deterministic point-ID derivation below. Qdrant
// point IDs must be a UUID or an unsigned integer; the service's own memory
// keys ("memory_20060102150405[-n]") are neither, so every point is stored
// under uuid.NewSHA1(qdrantNamespace, key) instead, and the original key
// travels in the payload's fieldMemoryKey entry so it can be read back.
var qdrantNamespace = uuid.MustParse("6f6e6f7a-6d65-6d6f-7279-2d6d63702d31")

func keyToPointID(key string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(qdrantNamespace, []byte(key)).String())
}

// QdrantConfig configures a QdrantStore. URL is host:port (gRPC), or a bare
// host (port defaults to 6334).
type QdrantConfig struct {
	URL            string
	APIKey         string
	CollectionName string
	VectorSize     uint64
	Distance       qdrant.Distance
}

// QdrantStore is the production vector.Store backend, one collection per
// persona. Grounded on the goagent retrieval package's Qdrant client usage:
// collection lifecycle via CollectionExists/CreateCollection, batched
// point upserts, and qdrant.Value payload conversion.
type QdrantStore struct {
	cfg    QdrantConfig
	client *qdrant.Client
}

const qdrantDefaultPort = 6334

// NewQdrantStore dials Qdrant and ensures the persona's collection exists.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	host, port, err := splitHostPort(cfg.URL)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.VectorStore, "parse qdrant address").
			WithComponent("vector.QdrantStore").WithOperation("NewQdrantStore")
	}
	if cfg.Distance == 0 {
		cfg.Distance = qdrant.Distance_Cosine
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, errkind.Wrap(err, errkind.VectorStore, "dial qdrant").
			WithComponent("vector.QdrantStore").WithOperation("NewQdrantStore")
	}

	s := &QdrantStore{cfg: cfg, client: client}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func splitHostPort(url string) (string, int, error) {
	if url == "" {
		return "localhost", qdrantDefaultPort, nil
	}
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		return url, qdrantDefaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}
	return host, port, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.CollectionName)
	if err != nil {
		return errkind.Wrap(err, errkind.VectorStore, "check collection").
			WithComponent("vector.QdrantStore").WithOperation("ensureCollection")
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.CollectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: s.cfg.Distance,
		}),
	})
	if err != nil {
		return errkind.Wrap(err, errkind.VectorStore, "create collection").
			WithComponent("vector.QdrantStore").WithOperation("ensureCollection")
	}
	return nil
}

// Upsert implements Store.
func (s *QdrantStore) Upsert(ctx context.Context, key string, vec []float32, payload map[string]any) error {
	point := &qdrant.PointStruct{
		Id:      keyToPointID(key),
		Vectors: qdrant.NewVectors(vec...),
		Payload: qdrant.NewValueMap(withMemoryKey(payload, key)),
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.CollectionName,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return errkind.Wrap(err, errkind.VectorStore, "upsert point").
			WithComponent("vector.QdrantStore").WithOperation("Upsert").WithContext("key", key)
	}
	return nil
}

// Delete implements Store.
func (s *QdrantStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.CollectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{keyToPointID(key)}},
			},
		},
	})
	if err != nil {
		return errkind.Wrap(err, errkind.VectorStore, "delete point").
			WithComponent("vector.QdrantStore").WithOperation("Delete").WithContext("key", key)
	}
	return nil
}

// Search implements Store. The Filter's tag/numeric/date predicates are
// translated to Qdrant filter conditions where Qdrant supports them
// directly; results are also defensively re-checked with Matches in case
// the translation under- or over-approximates (e.g. an empty payload on an
// older point).
func (s *QdrantStore) Search(ctx context.Context, query []float32, k int, filter *Filter) ([]Result, error) {
	req := &qdrant.QueryPoints{
		CollectionName: s.cfg.CollectionName,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         qdrantFilter(filter),
	}
	resp, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.VectorStore, "search").
			WithComponent("vector.QdrantStore").WithOperation("Search")
	}

	out := make([]Result, 0, len(resp))
	for _, pt := range resp {
		payload := valueMapToPayload(pt.GetPayload())
		if !Matches(payload, filter) {
			continue
		}
		out = append(out, Result{
			Key:        keyFromPayload(payload),
			Similarity: pt.GetScore(),
			Payload:    payload,
		})
	}
	return out, nil
}

// Count implements Store.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	resp, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.cfg.CollectionName})
	if err != nil {
		return 0, errkind.Wrap(err, errkind.VectorStore, "count").
			WithComponent("vector.QdrantStore").WithOperation("Count")
	}
	return int(resp), nil
}

// Dimension implements Store.
func (s *QdrantStore) Dimension(ctx context.Context) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.cfg.CollectionName)
	if err != nil {
		return 0, errkind.Wrap(err, errkind.VectorStore, "get collection info").
			WithComponent("vector.QdrantStore").WithOperation("Dimension")
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return 0, nil
	}
	return int(params.GetSize()), nil
}

// AllVectors implements Store by scrolling the entire collection. Acceptable
// for the dataset scale this service targets (see relational.Stats).
func (s *QdrantStore) AllVectors(ctx context.Context) ([]Point, error) {
	var out []Point
	var offset *qdrant.PointId
	const pageSize = 256

	for {
		resp, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.CollectionName,
			Limit:          qdrant.PtrOf(uint32(pageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, errkind.Wrap(err, errkind.VectorStore, "scroll").
				WithComponent("vector.QdrantStore").WithOperation("AllVectors")
		}
		for _, pt := range resp {
			payload := valueMapToPayload(pt.GetPayload())
			out = append(out, Point{
				Key:     keyFromPayload(payload),
				Vector:  pt.GetVectors().GetVector().GetData(),
				Payload: payload,
			})
		}
		if len(resp) < pageSize {
			break
		}
		offset = resp[len(resp)-1].GetId()
	}
	return out, nil
}

// RebuildFrom implements Store by recreating the collection and batch
// inserting every point, mirroring the goagent vector store's batched
// upsert (batchSize=100).
func (s *QdrantStore) RebuildFrom(ctx context.Context, points []Point) error {
	if err := s.client.DeleteCollection(ctx, s.cfg.CollectionName); err != nil {
		return errkind.Wrap(err, errkind.VectorStore, "drop collection before rebuild").
			WithComponent("vector.QdrantStore").WithOperation("RebuildFrom")
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	const batchSize = 100
	for start := 0; start < len(points); start += batchSize {
		end := start + batchSize
		if end > len(points) {
			end = len(points)
		}
		batch := make([]*qdrant.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, &qdrant.PointStruct{
				Id:      keyToPointID(p.Key),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: qdrant.NewValueMap(withMemoryKey(p.Payload, p.Key)),
			})
		}
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.cfg.CollectionName,
			Points:         batch,
		}); err != nil {
			return errkind.Wrap(err, errkind.VectorStore, "rebuild batch upsert").
				WithComponent("vector.QdrantStore").WithOperation("RebuildFrom").
				WithContext("batch_start", start)
		}
	}
	return nil
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func qdrantFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	var must []*qdrant.Condition

	if len(f.TagsAll) > 0 {
		tags := append([]string(nil), f.TagsAll...)
		sort.Strings(tags)
		for _, t := range tags {
			must = append(must, qdrant.NewMatch("tags", t))
		}
	} else if len(f.TagsAny) > 0 {
		must = append(must, qdrant.NewMatchKeywords("tags", f.TagsAny...))
	}

	if f.MinImportance != nil {
		must = append(must, qdrant.NewRange("importance", &qdrant.Range{Gte: f.MinImportance}))
	}
	if f.CreatedFrom != nil || f.CreatedTo != nil {
		r := &qdrant.Range{}
		if f.CreatedFrom != nil {
			v := float64(*f.CreatedFrom)
			r.Gte = &v
		}
		if f.CreatedTo != nil {
			v := float64(*f.CreatedTo)
			r.Lte = &v
		}
		must = append(must, qdrant.NewRange("created_at", r))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// withMemoryKey returns a copy of payload with FieldMemoryKey forced to key,
// so the point's original key survives the round trip through a point ID
// that cannot carry it (see keyToPointID).
func withMemoryKey(payload map[string]any, key string) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out[fieldMemoryKey] = key
	return out
}

// keyFromPayload recovers a point's memory key from its payload, since the
// point ID itself is a UUID derived from the key (see keyToPointID), not
// the key itself.
func keyFromPayload(payload map[string]any) string {
	return payloadString(payload, fieldMemoryKey)
}

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func valueMapToPayload(m map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = convertFromQdrantValue(v)
	}
	return out
}

func convertFromQdrantValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = convertFromQdrantValue(item)
		}
		return out
	default:
		return nil
	}
}
