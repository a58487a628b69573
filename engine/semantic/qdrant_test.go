package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// --- mocks ---

type mockPoints struct {
	pb.PointsClient
	upsertReq  *pb.UpsertPoints
	upsertErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
}

func (m *mockPoints) Upsert(_ context.Context, req *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = req
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Search(_ context.Context, req *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = req
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	pb.CollectionsClient
	listResp  *pb.ListCollectionsResponse
	listErr   error
	createErr error
	created   *pb.CreateCollection
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}

func (m *mockCollections) Create(_ context.Context, req *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = req
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}

// --- tests ---

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "policies"}},
		},
	}
	vs := NewVectorStoreWithClients(&mockPoints{}, cols, "policies")
	if err := vs.EnsureCollection(context.Background(), 256); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.created != nil {
		t.Fatal("collection recreated even though it exists")
	}
}

func TestEnsureCollection_CreatesWithEuclid(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{}},
	}
	vs := NewVectorStoreWithClients(&mockPoints{}, cols, "policies")
	if err := vs.EnsureCollection(context.Background(), 256); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.created == nil {
		t.Fatal("collection not created")
	}
	params := cols.created.GetVectorsConfig().GetParams()
	if params.GetSize() != 256 {
		t.Fatalf("size = %d, want 256", params.GetSize())
	}
	if params.GetDistance() != pb.Distance_Euclid {
		t.Fatalf("distance = %v, want Euclid", params.GetDistance())
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	vs := NewVectorStoreWithClients(&mockPoints{}, cols, "policies")
	if err := vs.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_MapsDocIDs(t *testing.T) {
	pts := &mockPoints{}
	vs := NewVectorStoreWithClients(pts, &mockCollections{}, "policies")

	records := []VectorRecord{
		{DocID: "cardiology_sop.txt", Embedding: []float32{1, 0}},
		{DocID: "diabetes_sop.txt", Embedding: []float32{0, 1}},
	}
	if err := vs.Upsert(context.Background(), records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(pts.upsertReq.GetPoints()) != 2 {
		t.Fatalf("got %d points, want 2", len(pts.upsertReq.GetPoints()))
	}
	got := pts.upsertReq.GetPoints()[0].GetPayload()["doc_id"].GetStringValue()
	if got != "cardiology_sop.txt" {
		t.Fatalf("payload doc_id = %q", got)
	}
}

func TestUpsert_Empty(t *testing.T) {
	pts := &mockPoints{}
	vs := NewVectorStoreWithClients(pts, &mockCollections{}, "policies")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("Upsert(nil): %v", err)
	}
	if pts.upsertReq != nil {
		t.Fatal("upsert issued for empty batch")
	}
}

func TestVectorStoreSearch(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{
				{
					Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "u1"}},
					Score: 0.12,
					Payload: map[string]*pb.Value{
						"doc_id": {Kind: &pb.Value_StringValue{StringValue: "diabetes_sop.txt"}},
					},
				},
			},
		},
	}
	vs := NewVectorStoreWithClients(pts, &mockCollections{}, "policies")

	hits, err := vs.Search(context.Background(), []float32{0, 1}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].DocID != "diabetes_sop.txt" || hits[0].Distance != 0.12 {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if pts.searchReq.GetLimit() != 1 {
		t.Fatalf("limit = %d, want 1", pts.searchReq.GetLimit())
	}
}

func TestVectorStoreSearch_Errors(t *testing.T) {
	vs := NewVectorStoreWithClients(&mockPoints{searchErr: errors.New("rpc fail")}, &mockCollections{}, "policies")
	if _, err := vs.Search(context.Background(), []float32{1}, 1); err == nil {
		t.Fatal("expected error")
	}
	if _, err := vs.Search(context.Background(), []float32{1}, 0); err == nil {
		t.Fatal("expected error for k=0")
	}
}
