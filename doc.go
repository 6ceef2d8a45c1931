// Package goftp provides a resilient client for remote file servers that
// allow only one command at a time on one stateful session.
//
// This package provides:
//   - FTP, FTPS and SFTP transports behind a single Session interface
//   - A FIFO task queue so concurrent callers never interleave commands
//   - Transparent reconnection using the last connection settings
//   - Directory listing with fallbacks for servers that reject absolute paths
//   - Uploads and downloads with one reconnect-and-retry attempt
//   - Recursive mirroring of a remote tree into a timestamped local directory
//
// # Basic Usage
//
// Create a client, connect, and list a directory:
//
//	client := goftp.New(goftp.WithLogger(logger))
//	defer client.Close()
//
//	err := client.Connect(ctx, goftp.ConnectionConfig{
//		Host:              "ftp.example.com",
//		Username:          "deploy",
//		Password:          "secret",
//		Passive:           true,
//		DefaultRemotePath: "/web",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	entries, err := client.ListFiles(ctx, "/")
//
// Listing "/" lists the session's working directory, so after entering
// DefaultRemotePath the returned paths are rooted under it.
//
// # Transfers
//
//	text, err := client.DownloadFile(ctx, "/web/index.html", "")
//	err = client.UploadFile(ctx, "<h1>hello</h1>", "/web/index.html")
//	err = client.UploadFile(ctx, "data:image/png;base64,iVBORw0KGgo=", "/web/logo.png")
//
// # Mirroring
//
//	rules := goftp.ParseIgnoreRules([]string{"node_modules", "/web/private"})
//	result, err := client.SyncToLocal(ctx, "/web", "/backups", rules, func(n int) {
//		fmt.Printf("\r%d files", n)
//	})
//
// # Connection Pooling
//
// For several callers sharing the same servers, use a Pool:
//
//	pool := goftp.NewPool(5 * time.Minute)
//	defer pool.Close()
//
//	client, err := pool.GetOrCreate(ctx, config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Release(config)
package goftp
