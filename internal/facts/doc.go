// Package facts builds engine facts from rule-set fact definitions.
//
// Shapes:
//   - {data}: a static fact, returned verbatim
//   - {collection, id}: one document fetched by id
//   - {collection, id: {fact, path}}: one document whose id is read from another fact
//   - {collection, query|filters}: the documents matching a where/order/limit chain
//
// Document values are the stored data with "id" merged in. The built-in
// now fact is provided by NowFact.
package facts
