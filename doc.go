// Package ring implements a ZeroMQ-inspired in-process messaging runtime:
// typed sockets (REQUESTER, REPLIER, PUSHER, PULLER) that speak a custom
// length-framed protocol over TCP, backed by a single-threaded reactor,
// a coroutine runtime built on single-result futures, and bounded pipes
// with high/low watermark backpressure.
//
// # Architecture
//
// A Context owns two reactor goroutines (the io-loop and the reaper).
// Each socket facade runs on its caller's goroutine and communicates with
// the reactor through a Mailbox (command envelopes) and Pipes (bounded
// byte-message queues). The one exception is REPLIER/PULLER connection
// bookkeeping: the io-loop writes it directly when it accepts a peer, and
// a mutex guards it against the caller's goroutine.
//
// Per TCP connection, a StreamEngine frames/parses the wire protocol
// against a non-blocking SocketStream and mediates between the stream and
// two pipes (recv-pipe: engine to user, send-pipe: user to engine). Four
// socket-type state machines (REQ, REP, PUSH, PULL) sit on top of one or
// more engines and enforce each pattern's send/recv ordering.
//
// # Usage
//
//	ctx, _ := ring.NewContext()
//	defer ctx.Stop()
//
//	rep, _ := ring.NewReplier(ctx)
//	_ = rep.Bind("127.0.0.1", 5555)
//
//	req, _ := ring.NewRequester(ctx)
//	_ = req.Connect("127.0.0.1", 5555)
//
//	_ = req.Send([]byte("ping"))
//	msg, _ := rep.Recv()
//	_ = rep.Send(msg)
//	reply, _ := req.Recv()
package ring
