// Package crud generates the standard resource endpoints for a schema backed by
// a SQL store.
//
// For a schema registered at prefix P the Generator exposes:
//
//	Method & Path        | Body          | Success              | Failure
//	---------------------|---------------|----------------------|---------------------------------
//	GET    P?skip&limit  | -             | 200, ordered list    | 422 invalid pagination
//	GET    P/{item_id}   | -             | 200, record          | 404 absent
//	POST   P             | create schema | 201, created record  | 422 key conflict / invalid body
//	PUT    P/{item_id}   | update schema | 200, updated record  | 404 absent, 422 key conflict
//	DELETE P/{item_id}   | -             | 200, deleted record  | 404 absent
//	DELETE P             | -             | 200, empty list      |
//
// Each endpoint can be disabled or wrapped with its own guard middleware.
//
// The Backend runs the operations against a request-scoped session. Sessions come
// in two variants: SyncSession (blocking) and AsyncSession (returns Futures). A
// Strategy, chosen when the Backend is built, opens one variant and presents it
// through the blocking contract, so List, Get, Create, Update, Delete and
// DeleteAll behave identically on either.
//
// Example usage:
//
//	pool, _ := pgxpool.New(ctx, connString)
//	potatoes, err := crud.New(potatoSchema, crud.Async(pgx.NewProvider(pool)),
//		crud.WithMaxLimit(100),
//		crud.Disable(crud.DeleteAll),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	r := httputil.NewRouter()
//	potatoes.Register(r)
//	log.Fatal(r.ListenAndServe(":8080"))
package crud
