package item

// Family is the closed set of item types. Runtime lookup happens by the
// string discriminator carried on the wire and in the store.
type Family string

const (
	FamilyNote                Family = "Note"
	FamilyPerson              Family = "Person"
	FamilyAddress             Family = "Address"
	FamilyPhoneNumber         Family = "PhoneNumber"
	FamilyWebsite             Family = "Website"
	FamilyPhoto               Family = "Photo"
	FamilyFile                Family = "File"
	FamilyLabel               Family = "Label"
	FamilyAuditItem           Family = "AuditItem"
	FamilySetting             Family = "Setting"
	FamilyImporter            Family = "Importer"
	FamilyImporterRun         Family = "ImporterRun"
	FamilyIndexer             Family = "Indexer"
	FamilyIndexerRun          Family = "IndexerRun"
	FamilyCVUStoredDefinition Family = "CVUStoredDefinition"
	FamilySession             Family = "Session"
	FamilySessionView         Family = "SessionView"
)

var families = map[string]Family{
	string(FamilyNote):                FamilyNote,
	string(FamilyPerson):              FamilyPerson,
	string(FamilyAddress):             FamilyAddress,
	string(FamilyPhoneNumber):         FamilyPhoneNumber,
	string(FamilyWebsite):             FamilyWebsite,
	string(FamilyPhoto):               FamilyPhoto,
	string(FamilyFile):                FamilyFile,
	string(FamilyLabel):               FamilyLabel,
	string(FamilyAuditItem):           FamilyAuditItem,
	string(FamilySetting):             FamilySetting,
	string(FamilyImporter):            FamilyImporter,
	string(FamilyImporterRun):         FamilyImporterRun,
	string(FamilyIndexer):             FamilyIndexer,
	string(FamilyIndexerRun):          FamilyIndexerRun,
	string(FamilyCVUStoredDefinition): FamilyCVUStoredDefinition,
	string(FamilySession):             FamilySession,
	string(FamilySessionView):         FamilySessionView,
}

// LookupFamily resolves a string discriminator to a known family.
func LookupFamily(name string) (Family, bool) {
	f, ok := families[name]
	return f, ok
}

// Families returns all known family discriminators.
func Families() []string {
	out := make([]string, 0, len(families))
	for k := range families {
		out = append(out, k)
	}
	return out
}
