// Package client is the certledger Go SDK.
//
// It mirrors the registry HTTP API: certificate registration and revocation,
// the DNS challenge flow, the content store, domain resolution and ledger
// inspection. Errors returned by the registry are *APIError values that match
// the package sentinels with errors.Is:
//
//	cert, err := c.Get(ctx, "CERT-1718000000000-shop")
//	if errors.Is(err, client.ErrNotFound) {
//	    // ...
//	}
//
// # Proving domain control
//
//	ch, _ := c.StartChallenge(ctx, "example.com")
//	// publish ch.TXTRecord at ch.TXTHost, then:
//	_, err := c.VerifyChallenge(ctx, ch.ID.String())
//
// VerifyChallenge fails with ErrVerificationFailed until the record is
// visible to the registry's resolver; it can be retried until the challenge
// expires.
//
// # Registering
//
//	reg, err := c.Upload(ctx, "example.pem", pemBytes, "", "")
//
// # Resolving
//
// Resolution is public and needs no token:
//
//	c, _ := client.New("https://registry.example.com", client.WithCacheTTL(30*time.Second))
//	res, _ := c.Resolve(ctx, "https://example.com/login")
//	fmt.Println(res.Status) // secure, insecure or unknown
//
// Client also implements the resolver's Source and Versioned interfaces, so
// a standalone resolver can enumerate a remote registry.
package client
