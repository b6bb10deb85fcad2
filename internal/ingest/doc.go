// Package ingest imports product and order CSV files into a shop.Store.
//
// # Input
//
// An import takes a byte stream and the name of its text encoding. The
// stream is size-limited, decoded to UTF-8 (a byte order mark overrides the
// declared encoding) and parsed as comma-separated text with a header row.
//
// Product files name Product fields in their header:
//
//	name,description,price,discount
//	Widget,A small widget,9.99,0
//
// Order files name Order fields plus the owning user. A "products" column and
// every column past the header hold product names:
//
//	delivery_address,promocode,created_at,user,products
//	123 Main St,SAVE10,2023-01-01,alice,Widget,Gadget
//
// # Semantics
//
// [Importer.ImportProducts] validates every row, then inserts all products in
// one bulk operation. [Importer.ImportOrders] processes rows in file order:
// it resolves the user and products by exact name, persists the order on its
// own, and sets the product association once the order has an identity. The
// first failing row stops the import without undoing earlier rows.
//
// Neither import deduplicates: importing a file twice creates its records
// twice.
//
// # Errors
//
// Failures fall into [ErrReferenceNotFound] (with [ErrUserNotFound],
// [ErrProductNotFound] and [ErrAmbiguousProduct] for the entity),
// [ErrMalformedInput], [ErrSizeLimitExceeded] and [ErrUnsupportedEncoding].
// Row-level failures are [*RowError] values carrying the source line.
// [MapError] turns any of them into a coded [UserMessage].
package ingest
