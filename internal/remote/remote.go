// Package remote exposes a block device over gRPC so a cache can sit on
// a device served by another process (sectord). The service is registered
// by hand with a JSON codec — no protobuf toolchain involved; []byte
// payloads ride as base64 inside the JSON frames.
package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

const serviceName = "sectorcache.BlockDevice"

// Wire types. Errors travel in-band so a device-level failure is
// distinguishable from a transport failure.
type readRequest struct {
	Sector uint64 `json:"sector"`
	Count  uint64 `json:"count"`
}
type readResponse struct {
	Data  []byte `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}
type writeRequest struct {
	Sector uint64 `json:"sector"`
	Count  uint64 `json:"count"`
	Data   []byte `json:"data"`
}
type writeResponse struct {
	Error string `json:"error,omitempty"`
}
type describeRequest struct{}
type describeResponse struct {
	TotalSectors uint64 `json:"total_sectors"`
	SectorSize   int    `json:"sector_size"`
	ImageID      string `json:"image_id,omitempty"`
}

// jsonCodec is the gRPC codec used on both ends.
type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Backend is what the server side needs from the device it exports.
type Backend interface {
	ReadSectors(startSector, count uint64, buf []byte) error
	WriteSectors(startSector, count uint64, buf []byte) error
	TotalSectors() uint64
	BytesPerSector() int
}

// blockDeviceServer is the service interface the descriptor is built
// against (manual, no protobuf).
type blockDeviceServer interface {
	read(ctx context.Context, req *readRequest) (*readResponse, error)
	write(ctx context.Context, req *writeRequest) (*writeResponse, error)
	describe(ctx context.Context, req *describeRequest) (*describeResponse, error)
}

// Server serves one Backend as a BlockDevice service.
type Server struct {
	dev     Backend
	imageID string
}

// NewServer creates a Server for dev. imageID is informational (the
// image UUID, when the backend is an image file).
func NewServer(dev Backend, imageID string) *Server {
	return &Server{dev: dev, imageID: imageID}
}

func (s *Server) read(_ context.Context, req *readRequest) (*readResponse, error) {
	buf := make([]byte, req.Count*uint64(s.dev.BytesPerSector()))
	if err := s.dev.ReadSectors(req.Sector, req.Count, buf); err != nil {
		return &readResponse{Error: err.Error()}, nil
	}
	return &readResponse{Data: buf}, nil
}

func (s *Server) write(_ context.Context, req *writeRequest) (*writeResponse, error) {
	want := req.Count * uint64(s.dev.BytesPerSector())
	if uint64(len(req.Data)) < want {
		return &writeResponse{Error: fmt.Sprintf("short payload: %d bytes for %d sectors", len(req.Data), req.Count)}, nil
	}
	if err := s.dev.WriteSectors(req.Sector, req.Count, req.Data); err != nil {
		return &writeResponse{Error: err.Error()}, nil
	}
	return &writeResponse{}, nil
}

func (s *Server) describe(_ context.Context, _ *describeRequest) (*describeResponse, error) {
	return &describeResponse{
		TotalSectors: s.dev.TotalSectors(),
		SectorSize:   s.dev.BytesPerSector(),
		ImageID:      s.imageID,
	}, nil
}

// Register registers the BlockDevice service (and the JSON codec) on gs.
func Register(gs *grpc.Server, srv *Server) {
	encoding.RegisterCodec(jsonCodec{})
	gs.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*blockDeviceServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Read", Handler: readHandler},
			{MethodName: "Write", Handler: writeHandler},
			{MethodName: "Describe", Handler: describeHandler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "sectorcache",
	}, srv)
}

func readHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(readRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(blockDeviceServer).read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Read"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(blockDeviceServer).read(ctx, req.(*readRequest)) }
	return interceptor(ctx, in, info, handler)
}

func writeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(writeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(blockDeviceServer).write(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Write"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(blockDeviceServer).write(ctx, req.(*writeRequest)) }
	return interceptor(ctx, in, info, handler)
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(describeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(blockDeviceServer).describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Describe"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(blockDeviceServer).describe(ctx, req.(*describeRequest)) }
	return interceptor(ctx, in, info, handler)
}

// Client is a block device backed by a remote BlockDevice service. It
// satisfies the cache's Device contract.
type Client struct {
	conn           *grpc.ClientConn
	totalSectors   uint64
	bytesPerSector int
	imageID        string
}

// Dial connects to a sectord at addr and fetches the device geometry.
func Dial(addr string) (*Client, error) {
	encoding.RegisterCodec(jsonCodec{})
	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
	}
	c := &Client{conn: conn}
	var resp describeResponse
	if err := conn.Invoke(context.Background(), "/"+serviceName+"/Describe", &describeRequest{}, &resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("remote: describe: %w", err)
	}
	c.totalSectors = resp.TotalSectors
	c.bytesPerSector = resp.SectorSize
	c.imageID = resp.ImageID
	return c, nil
}

// TotalSectors returns the remote device capacity in sectors.
func (c *Client) TotalSectors() uint64 { return c.totalSectors }

// BytesPerSector returns the remote device sector size.
func (c *Client) BytesPerSector() int { return c.bytesPerSector }

// ImageID returns the served image's UUID string, if any.
func (c *Client) ImageID() string { return c.imageID }

func (c *Client) ReadSectors(startSector, count uint64, buf []byte) error {
	var resp readResponse
	req := &readRequest{Sector: startSector, Count: count}
	if err := c.conn.Invoke(context.Background(), "/"+serviceName+"/Read", req, &resp); err != nil {
		return fmt.Errorf("remote: read %d sectors at %d: %w", count, startSector, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("remote: read %d sectors at %d: %s", count, startSector, resp.Error)
	}
	want := count * uint64(c.bytesPerSector)
	if uint64(len(resp.Data)) < want {
		return fmt.Errorf("remote: short read: %d of %d bytes", len(resp.Data), want)
	}
	copy(buf, resp.Data[:want])
	return nil
}

func (c *Client) WriteSectors(startSector, count uint64, buf []byte) error {
	want := count * uint64(c.bytesPerSector)
	req := &writeRequest{Sector: startSector, Count: count, Data: buf[:want]}
	var resp writeResponse
	if err := c.conn.Invoke(context.Background(), "/"+serviceName+"/Write", req, &resp); err != nil {
		return fmt.Errorf("remote: write %d sectors at %d: %w", count, startSector, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("remote: write %d sectors at %d: %s", count, startSector, resp.Error)
	}
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error { return c.conn.Close() }
