package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SQLDB", func() {
	Describe("on SQLite", func() {
		describeDB(func(dir string) (DB, error) {
			return NewSQLiteDB(filepath.Join(dir, "receipts.db"))
		})
	})

	Describe("ListReceipts", func() {
		It("should return the newest receipts first", func() {
			db, err := NewSQLiteDB(filepath.Join(GinkgoT().TempDir(), "receipts.db"))
			Expect(err).NotTo(HaveOccurred())
			defer db.Close()

			Expect(db.SaveReceipt(&Receipt{ID: "old", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})).To(Succeed())
			Expect(db.SaveReceipt(&Receipt{ID: "new", CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)})).To(Succeed())
			Expect(db.SaveReceipt(&Receipt{ID: "mid", CreatedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)})).To(Succeed())

			all, err := db.ListReceipts()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(3))
			Expect(all[0].ID).To(Equal("new"))
			Expect(all[2].ID).To(Equal("old"))
		})
	})

	Describe("GetMaster", func() {
		It("should return the oldest record when several exist", func() {
			db, err := NewSQLiteDB(filepath.Join(GinkgoT().TempDir(), "receipts.db"))
			Expect(err).NotTo(HaveOccurred())
			defer db.Close()

			Expect(db.SaveMaster(&MasterRecord{ID: "second", CreatedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)})).To(Succeed())
			Expect(db.SaveMaster(&MasterRecord{ID: "first", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})).To(Succeed())

			master, err := db.GetMaster()
			Expect(err).NotTo(HaveOccurred())
			Expect(master.ID).To(Equal("first"))
		})
	})
})
