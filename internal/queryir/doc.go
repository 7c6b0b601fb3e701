// Package queryir is the backend-neutral form of a collection query.
//
// A Query names a collection and an ordered list of steps. Steps are chained
// in the order a rule set lists its filters: the first Where establishes the
// base, later Wheres AND onto it, OrderBy and Limit apply to the result.
//
//	q := queryir.From("sales_workers").
//		Where("team.docId", queryir.OpEqual, "t1").
//		Limit(10).
//		OrderBy("created", queryir.Asc)
//
// Step is a sealed interface; backend compilers (see package querysql)
// switch over the concrete step types exhaustively.
package queryir
