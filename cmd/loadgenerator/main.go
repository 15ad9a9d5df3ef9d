// Command loadgenerator simulates hotspot NAS traffic: for each client it
// issues a one-time credential, authenticates with it and then reports a
// Start, a number of Interim-Updates and a Stop.
package main

import (
	"context"
	"flag"
	"fmt"
	mrand "math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"

	"github.com/nashmick001/mikrotik-portal/internal/credential"
	"github.com/nashmick001/mikrotik-portal/pkg/datastore"
	"github.com/nashmick001/mikrotik-portal/pkg/logger"
)

type options struct {
	authAddr  string
	acctAddr  string
	secret    []byte
	interims  int
	timeout   time.Duration
	nasIP     net.IP
	nasID     string
	issuer    *credential.Adapter
	failures  atomic.Int64
	completed atomic.Int64
}

func main() {
	rps := flag.Int("rps", 10, "Clients started per second")
	numberOfClients := flag.Int("n", 100, "Total number of simulated clients")
	interims := flag.Int("interims", 2, "Interim-Updates sent per session")
	authAddr := flag.String("auth", "radius-server:1812", "RADIUS authentication address")
	acctAddr := flag.String("acct", "radius-server:1813", "RADIUS accounting address")
	secret := flag.String("secret", "testing123", "RADIUS shared secret")
	redisAddr := flag.String("redis", "redis:6379", "Redis address used to issue credentials")
	timeout := flag.Duration("timeout", 3*time.Second, "Per-exchange timeout")
	flag.Parse()

	log := logger.Init(logger.Options{Level: "info", Pretty: true})

	client := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer client.Close()

	opts := &options{
		authAddr: *authAddr,
		acctAddr: *acctAddr,
		secret:   []byte(*secret),
		interims: *interims,
		timeout:  *timeout,
		nasIP:    net.IPv4(192, 168, 88, 1),
		nasID:    "loadgen",
		issuer:   credential.NewAdapter(datastore.NewRedisStore(client), zerolog.Nop()),
	}

	rate := *rps
	if rate <= 0 {
		rate = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	randSource := mrand.New(mrand.NewSource(time.Now().UnixNano()))
	started := time.Now()

	var wg sync.WaitGroup
	for i := range *numberOfClients {
		<-ticker.C
		mac := randomMAC(randSource)
		ip := net.IPv4(10, 5, byte(i>>8), byte(i))
		sessionID := fmt.Sprintf("%08x", randSource.Uint32())
		step := randSource.Int63n(1 << 20)

		wg.Add(1)
		go func() {
			defer wg.Done()
			l := log.With().Str("mac", mac).Str("session_id", sessionID).Logger()
			if err := opts.simulate(context.Background(), mac, ip, sessionID, step); err != nil {
				opts.failures.Add(1)
				l.Error().Err(err).Msg("client simulation failed")
				return
			}
			opts.completed.Add(1)
		}()
	}
	wg.Wait()

	log.Info().
		Int64("completed", opts.completed.Load()).
		Int64("failed", opts.failures.Load()).
		Dur("elapsed", time.Since(started)).
		Msg("load generation finished")
}

// simulate runs one client through login and a full accounting session.
func (o *options) simulate(ctx context.Context, mac string, ip net.IP, sessionID string, step int64) error {
	cred, err := o.issuer.Issue(ctx, mac)
	if err != nil {
		return fmt.Errorf("issue credential: %w", err)
	}

	access := radius.New(radius.CodeAccessRequest, o.secret)
	rfc2865.UserName_SetString(access, cred.Identity)
	rfc2865.UserPassword_SetString(access, cred.Secret)
	rfc2865.NASIdentifier_SetString(access, o.nasID)
	rfc2865.CallingStationID_SetString(access, mac)

	resp, err := o.exchange(ctx, access, o.authAddr)
	if err != nil {
		return fmt.Errorf("access request: %w", err)
	}
	if resp.Code != radius.CodeAccessAccept {
		return fmt.Errorf("access request: got %v", resp.Code)
	}

	var in, out uint32
	send := func(status rfc2866.AcctStatusType) error {
		p := radius.New(radius.CodeAccountingRequest, o.secret)
		rfc2865.UserName_SetString(p, cred.Identity)
		rfc2866.AcctSessionID_SetString(p, sessionID)
		rfc2866.AcctStatusType_Set(p, status)
		rfc2865.NASIPAddress_Set(p, o.nasIP)
		rfc2865.FramedIPAddress_Set(p, ip)
		rfc2865.CallingStationID_SetString(p, mac)
		rfc2866.AcctInputOctets_Set(p, rfc2866.AcctInputOctets(in))
		rfc2866.AcctOutputOctets_Set(p, rfc2866.AcctOutputOctets(out))

		resp, err := o.exchange(ctx, p, o.acctAddr)
		if err != nil {
			return fmt.Errorf("%v: %w", status, err)
		}
		if resp.Code != radius.CodeAccountingResponse {
			return fmt.Errorf("%v: got %v", status, resp.Code)
		}
		return nil
	}

	if err := send(rfc2866.AcctStatusType_Value_Start); err != nil {
		return err
	}
	for range o.interims {
		in += uint32(step)
		out += uint32(step / 4)
		if err := send(rfc2866.AcctStatusType_Value_InterimUpdate); err != nil {
			return err
		}
	}
	in += uint32(step)
	return send(rfc2866.AcctStatusType_Value_Stop)
}

func (o *options) exchange(ctx context.Context, p *radius.Packet, addr string) (*radius.Packet, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return radius.Exchange(ctx, p, addr)
}

func randomMAC(r *mrand.Rand) string {
	b := make([]byte, 6)
	r.Read(b) //nolint:errcheck
	b[0] = (b[0] | 0x02) & 0xfe // locally administered, unicast
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}
