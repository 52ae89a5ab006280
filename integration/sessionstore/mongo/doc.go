// Package mongo implements session.Store on a MongoDB collection.
//
// Each session is one document:
//
//	{
//	    _id:      "<session id>",
//	    created:  ISODate, accessed: ISODate,
//	    interval: <max inactive interval in ms>,
//	    expireAt: ISODate or null when the session never expires,
//	    attrs:    { <name>: BinData },
//	    indexes:  { <name>: "<value>" }
//	}
//
// Attribute and index names are stored with '.' and a leading '$' replaced by
// their full-width forms. Saves use $set and $unset on the changed paths only
// and fall back to an upserting replace when the document is gone.
//
// Call EnsureIndexes once at startup. WithTTLIndex lets the server delete
// expired documents on its own; Feed then reports them as Expired.
//
//	db := client.Database("app")
//	store := mongo.New(db, mongo.WithTTLIndex(time.Minute))
//	if err := store.EnsureIndexes(ctx); err != nil {
//	    return err
//	}
//	if err := store.EnablePreImages(ctx); err != nil {
//	    return err
//	}
//	bridge.Attach(mongo.NewFeed(store))
package mongo
