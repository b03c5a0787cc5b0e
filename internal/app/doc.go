// Package app wires the engine components into a single facade for
// in-process collaborators. It handles configuration loading, logger
// and tracing setup, component construction, and graceful shutdown.
//
// # Architecture
//
// All components are assembled at startup and exposed as fields, so a
// collaborator that needs one layer directly (the batch runner, the
// dataset index) is not forced through the facade methods.
//
// # Initialization Flow
//
// The typical initialization sequence:
//
//	1. Load configuration from defaults, file, and environment
//	2. Initialize logging and tracing
//	3. Create the dataset index, loaders, and fitter
//	4. Start the batch runner worker pool
//
// # Usage
//
// The main entry point is typically:
//
//	engine, err := app.New(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	if err := engine.OpenFolder(domain.OpenFolderRequest{Dir: dir}); err != nil {
//	    log.Fatal(err)
//	}
//	for _, entry := range engine.ListFrames() {
//	    ...
//	}
//
// # Error Handling
//
// Facade methods validate their requests and return typed errors from
// internal/errs. Nothing in this package calls os.Exit or panics;
// callers control the exit process.
package app
